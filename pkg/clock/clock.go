// Package clock reads and writes the per-table "__crsql_clock" shadow
// table: the per-cell record of which (version, site) most recently
// won a merge, keyed by primary-key tuple and column ordinal.
package clock

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
	"github.com/aphrodite-sh/cf-sqlite/pkg/dbhandle"
	"github.com/aphrodite-sh/cf-sqlite/pkg/pkcodec"
)

// Sentinel column ordinals. These are part of the on-disk format
// (persisted in __crsql_col_num) and must never change.
const (
	DeleteCIDSentinel = -1
	PkOnlyCIDSentinel = -2
)

// TableName returns the shadow-table name for a CRR's base table, the
// fixed naming convention the schema-introspection collaborator also
// follows.
func TableName(tbl string) string {
	return tbl + "__crsql_clock"
}

// CreateTableDDL returns the DDL to create the clock shadow table for a
// CRR whose primary key columns are pkDefs (each already a full column
// definition fragment, e.g. `"id" INTEGER`). The clock table's own
// primary key is every pk column plus the column ordinal.
func CreateTableDDL(tbl string, pkDefs []string, pkNames []string) string {
	cols := ""
	for _, def := range pkDefs {
		cols += def + ",\n  "
	}
	return fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS "%s" (
  %s"__crsql_col_num" INTEGER NOT NULL,
  "__crsql_version" INTEGER NOT NULL,
  "__crsql_site_id" BLOB,
  PRIMARY KEY (%s, "__crsql_col_num")
)`,
		TableName(tbl), cols, pkcodec.QuoteIdentifierList(pkNames))
}

// Store is the collaborator-facing read/write surface over one CRR's
// clock table.
type Store struct {
	h dbhandle.DBHandle
}

// NewStore wraps a DBHandle; h may be *sql.DB or a *sql.Tx so clock
// writes stay inside the caller's transaction.
func NewStore(h dbhandle.DBHandle) *Store {
	return &Store{h: h}
}

// LookupCellClock returns the currently-stored version for the cell
// identified by (tbl, pkWhere, cid), and whether a clock row exists at
// all.
func (s *Store) LookupCellClock(ctx context.Context, tbl, pkWhere string, cid int32) (version int64, found bool, err error) {
	q := fmt.Sprintf(
		`SELECT "__crsql_version" FROM "%s" WHERE %s AND %d = "__crsql_col_num"`,
		TableName(tbl), pkWhere, cid)

	row := s.h.QueryRowContext(ctx, q)
	if scanErr := row.Scan(&version); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, crrerrors.NewDbError("failed reading cell clock", scanErr)
	}
	return version, true, nil
}

// CheckDeleteTombstone reports whether the row identified by (tbl,
// pkWhere) already carries a DeleteCIDSentinel clock row.
func (s *Store) CheckDeleteTombstone(ctx context.Context, tbl, pkWhere string) (locallyDeleted bool, err error) {
	q := fmt.Sprintf(
		`SELECT count(*) FROM "%s" WHERE %s AND "__crsql_col_num" = %d`,
		TableName(tbl), pkWhere, DeleteCIDSentinel)

	var count int
	if scanErr := s.h.QueryRowContext(ctx, q).Scan(&count); scanErr != nil {
		return false, crrerrors.NewDbError("failed checking delete tombstone", scanErr)
	}
	switch count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, crrerrors.NewDbError(
			"invariant violation", fmt.Errorf("%d tombstone rows for one pk", count))
	}
}

// UpsertWinner is the single write point for clock rows: it records
// (version, siteID) as the winner for (tbl, pk, cid), replacing any
// prior winner for that cell.
func (s *Store) UpsertWinner(ctx context.Context, tbl, pkIdents, pkVals string, cid int32, version int64, siteID []byte) error {
	q := fmt.Sprintf(
		`INSERT OR REPLACE INTO "%s" (%s, "__crsql_col_num", "__crsql_version", "__crsql_site_id") VALUES (%s, %d, %d, %s)`,
		TableName(tbl), pkIdents, pkVals, cid, version, pkcodec.QuoteBytes(siteID))

	if _, err := s.h.ExecContext(ctx, q); err != nil {
		return crrerrors.NewDbError("failed setting winner clock", err)
	}
	return nil
}
