package merge

import (
	"context"
	"errors"

	"github.com/aphrodite-sh/cf-sqlite/pkg/clock"
	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
	"github.com/aphrodite-sh/cf-sqlite/pkg/dbhandle"
	"github.com/aphrodite-sh/cf-sqlite/pkg/pkcodec"
	"github.com/aphrodite-sh/cf-sqlite/pkg/schema"
	"github.com/aphrodite-sh/cf-sqlite/pkg/syncbit"
)

// Default bounds for the table-name and site-id fields of an incoming
// change record. SITE_ID_LEN in the source is the width of the UUID
// identifying a replica; MAX_TBL_NAME_LEN bounds the table name carried
// in the virtual-table argv.
const (
	DefaultMaxTableNameLen = 64
	DefaultMaxSiteIDLen    = 16
)

// ChangeRecord is one incoming row from the remote change feed: the
// six-tuple (table, pk, cid, val, version, site_id) described by the
// data model.
type ChangeRecord struct {
	Table   string
	PK      []byte
	CID     int32
	Val     []byte
	Version int64
	SiteID  []byte
}

// Outcome reports what Apply did with a change record. Applied is false
// when a cell update loses the conflict or a cell / pk-only record is
// absorbed by a tombstone — these are not errors. A redundant pk-only
// insert and a repeat delete of a tombstoned pk report Applied true.
// RowID mirrors the version on an applied record; it is not globally
// unique and must not be treated as a stable identity.
type Outcome struct {
	Applied bool
	RowID   int64
}

// Engine is the merge orchestrator: one Engine is bound to a single
// DBHandle (either *sql.DB or, inside a caller's transaction, *sql.Tx)
// and a single local site id.
type Engine struct {
	h           dbhandle.DBHandle
	dir         *schema.Directory
	clock       *clock.Store
	localSiteID []byte

	MaxTableNameLen int
	MaxSiteIDLen    int
}

// NewEngine builds an Engine over h, refreshing TableInfo from dir on
// every Apply call.
func NewEngine(h dbhandle.DBHandle, dir *schema.Directory, localSiteID []byte) *Engine {
	return &Engine{
		h:               h,
		dir:             dir,
		clock:           clock.NewStore(h),
		localSiteID:     localSiteID,
		MaxTableNameLen: DefaultMaxTableNameLen,
		MaxSiteIDLen:    DefaultMaxSiteIDLen,
	}
}

// Apply consumes one change record and runs it through the merge state
// machine described in the data model: refresh the table directory,
// validate bounds, decode the primary key, check for a standing
// tombstone, then dispatch to the delete / pk-only / cell sub-protocol.
func (e *Engine) Apply(ctx context.Context, rec ChangeRecord) (Outcome, error) {
	if err := e.dir.Refresh(ctx); err != nil {
		return Outcome{}, err
	}

	if len(rec.Table) > e.MaxTableNameLen {
		return Outcome{}, crrerrors.NewInputTooLongError("table name", e.MaxTableNameLen, len(rec.Table))
	}
	if len(rec.SiteID) > e.MaxSiteIDLen {
		return Outcome{}, crrerrors.NewInputTooLongError("site id", e.MaxSiteIDLen, len(rec.SiteID))
	}

	ti, ok := e.dir.Lookup(rec.Table)
	if !ok {
		return Outcome{}, crrerrors.NewUnknownTableError(rec.Table)
	}

	if rec.CID != clock.DeleteCIDSentinel && rec.CID != clock.PkOnlyCIDSentinel {
		if rec.CID < 0 || int(rec.CID) >= ti.BaseColsLen() {
			return Outcome{}, crrerrors.NewBadColumnError(rec.Table, rec.CID)
		}
	}

	decoded, _, err := pkcodec.Decode(rec.PK, ti.PKNames())
	if err != nil {
		return Outcome{}, err
	}

	tombstoned, err := e.clock.CheckDeleteTombstone(ctx, rec.Table, decoded.WhereList)
	if err != nil {
		return Outcome{}, err
	}
	if tombstoned && rec.CID != clock.DeleteCIDSentinel {
		// Delete wins: the row's lifetime at this site is over, and no
		// further cell or pk-only record may resurrect it.
		return Outcome{Applied: false}, nil
	}

	switch rec.CID {
	case clock.DeleteCIDSentinel:
		return e.mergeDelete(ctx, rec, ti, decoded, tombstoned)
	case clock.PkOnlyCIDSentinel:
		return e.mergePkOnly(ctx, rec, ti, decoded)
	default:
		return e.mergeCell(ctx, rec, ti, decoded)
	}
}

func (e *Engine) mergeDelete(ctx context.Context, rec ChangeRecord, ti schema.TableInfo, pk pkcodec.Decoded, alreadyTombstoned bool) (Outcome, error) {
	if alreadyTombstoned {
		// A repeat delete for an already-tombstoned pk is idempotent OK
		// with no further clock write, matching the source's
		// early-return on LocallyDeleted.
		return Outcome{Applied: true, RowID: rec.Version}, nil
	}

	if err := e.withSyncBit(ctx, func() error {
		q := `DELETE FROM "` + ti.Name + `" WHERE ` + pk.WhereList
		if _, err := e.h.ExecContext(ctx, q); err != nil {
			return crrerrors.NewDbError("failed deleting row for merge", err)
		}
		return nil
	}); err != nil {
		return Outcome{}, err
	}

	if err := e.clock.UpsertWinner(ctx, ti.Name, pk.IdentifierList, pk.ValsStr, clock.DeleteCIDSentinel, rec.Version, rec.SiteID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Applied: true, RowID: rec.Version}, nil
}

func (e *Engine) mergePkOnly(ctx context.Context, rec ChangeRecord, ti schema.TableInfo, pk pkcodec.Decoded) (Outcome, error) {
	if err := e.withSyncBit(ctx, func() error {
		q := `INSERT OR IGNORE INTO "` + ti.Name + `" (` + pk.IdentifierList + `) VALUES (` + pk.ValsStr + `)`
		if _, err := e.h.ExecContext(ctx, q); err != nil {
			return crrerrors.NewDbError("failed materializing pk-only row", err)
		}
		return nil
	}); err != nil {
		return Outcome{}, err
	}

	if err := e.clock.UpsertWinner(ctx, ti.Name, pk.IdentifierList, pk.ValsStr, clock.PkOnlyCIDSentinel, rec.Version, rec.SiteID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Applied: true, RowID: rec.Version}, nil
}

func (e *Engine) mergeCell(ctx context.Context, rec ChangeRecord, ti schema.TableInfo, pk pkcodec.Decoded) (Outcome, error) {
	vLocal, found, err := e.clock.LookupCellClock(ctx, ti.Name, pk.WhereList, rec.CID)
	if err != nil {
		return Outcome{}, err
	}

	decision, err := Decide(rec.Version, rec.SiteID, vLocal, found, e.localSiteID)
	if err != nil {
		return Outcome{}, err
	}
	if decision == Reject {
		return Outcome{Applied: false}, nil
	}

	valFields, err := pkcodec.Split(rec.Val, 1)
	if err != nil {
		var pde *crrerrors.PkDecodeError
		if errors.As(err, &pde) {
			return Outcome{}, crrerrors.NewBadValueError(pde.Reason)
		}
		return Outcome{}, crrerrors.NewBadValueError(err.Error())
	}
	colName := ti.BaseCols[int(rec.CID)].Name

	if err := e.withSyncBit(ctx, func() error {
		q := `INSERT INTO "` + ti.Name + `" (` + pk.IdentifierList + `, "` + colName + `") VALUES (` +
			pk.ValsStr + `, ` + valFields[0] + `) ON CONFLICT (` + pk.IdentifierList + `) DO UPDATE SET "` +
			colName + `" = ` + valFields[0]
		if _, err := e.h.ExecContext(ctx, q); err != nil {
			return crrerrors.NewDbError("failed applying cell update", err)
		}
		return nil
	}); err != nil {
		return Outcome{}, err
	}

	if err := e.clock.UpsertWinner(ctx, ti.Name, pk.IdentifierList, pk.ValsStr, rec.CID, rec.Version, rec.SiteID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Applied: true, RowID: rec.Version}, nil
}

// withSyncBit runs fn with the sync bit held, guaranteeing release on
// every exit path including a panic unwind.
func (e *Engine) withSyncBit(ctx context.Context, fn func() error) error {
	guard, err := syncbit.Acquire(ctx, e.h)
	if err != nil {
		return err
	}
	defer guard.Release(ctx)
	return fn()
}
