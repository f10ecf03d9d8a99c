// Package merge implements the conflict-resolution write path: given
// one incoming change record, decide whether to apply it and update the
// per-cell clock accordingly.
package merge

import (
	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
	"github.com/aphrodite-sh/cf-sqlite/pkg/siteid"
)

// Decision is the output of the conflict rule: whether a cell-update
// record should be applied.
type Decision int

const (
	Reject Decision = iota
	Accept
)

// Decide implements the last-writer-wins conflict rule (version,
// site_id tie-break). vLocal/localFound describe the cell's currently
// stored clock, or its absence.
//
// The decider deliberately compares the remote site id only against
// the local site id, never against the site id recorded on the
// existing cell clock. Two different remote sites writing the same
// cell at equal versions can therefore converge differently depending
// on arrival order at a third site — a documented simplification, not
// a bug; do not "fix" the asymmetry below.
func Decide(vRemote int64, sRemote []byte, vLocal int64, localFound bool, sLocal []byte) (Decision, error) {
	cmp := siteid.Compare(sRemote, sLocal)
	if cmp == 0 {
		return Reject, crrerrors.NewSelfPatchError(sRemote)
	}
	if !localFound {
		return Accept, nil
	}
	if cmp > 0 {
		if vRemote >= vLocal {
			return Accept, nil
		}
		return Reject, nil
	}
	// cmp < 0: local site wins ties.
	if vRemote > vLocal {
		return Accept, nil
	}
	return Reject, nil
}
