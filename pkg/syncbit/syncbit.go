// Package syncbit provides the scoped acquire/release of the
// connection-local sync bit that change-capture triggers consult to
// skip rows applied by the merge engine itself.
package syncbit

import (
	"context"

	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
	"github.com/aphrodite-sh/cf-sqlite/pkg/dbhandle"
)

// SetStmt and ClearStmt are the fixed control strings executed against
// the handle to toggle the sync bit. The merge engine treats them as
// opaque; their effect is defined by the installed change-capture
// triggers, not by this package. The flag is backed by a TEMP table:
// TEMP objects in sqlite are connection-local by construction, which is
// exactly the scoping the sync bit needs. The table is created empty, so
// its presence is tested through sqlite_temp_master (e.g. `SELECT 1 FROM
// sqlite_temp_master WHERE name = '__crsql_sync_bit'`), not by selecting
// from the table itself.
const (
	SetStmt   = "CREATE TEMP TABLE IF NOT EXISTS __crsql_sync_bit (v INTEGER)"
	ClearStmt = "DROP TABLE IF EXISTS __crsql_sync_bit"
)

// Guard is a scoped hold of the sync bit. Acquire it before any DML
// against a CRR user table that must not be re-captured; Release it on
// every exit path, success or failure.
type Guard struct {
	h        dbhandle.DBHandle
	released bool
}

// Acquire sets the sync bit and returns a Guard whose Release clears it.
// Fails with a SyncBitError if the SET statement itself fails; the
// caller must abort without attempting the guarded DML.
func Acquire(ctx context.Context, h dbhandle.DBHandle) (*Guard, error) {
	if _, err := h.ExecContext(ctx, SetStmt); err != nil {
		return nil, crrerrors.NewSyncBitError(err)
	}
	return &Guard{h: h}, nil
}

// Release clears the sync bit. It is safe to call more than once and
// never returns an error: the flag is best-effort-cleared, and a
// failure here must never mask whatever error the guarded DML produced.
func (g *Guard) Release(ctx context.Context) {
	if g == nil || g.released {
		return
	}
	g.released = true
	_, _ = g.h.ExecContext(ctx, ClearStmt)
}
