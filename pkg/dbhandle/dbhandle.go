// Package dbhandle is the concrete stand-in for the spec's abstract
// "database handle": prepare/step/exec of parameterised statements and
// raw DDL/DML, backed by database/sql so the merge engine can run
// inside a caller-supplied transaction.
package dbhandle

import (
	"context"
	"database/sql"
)

// DBHandle is the narrow surface the merge engine needs from the
// underlying SQL engine. Both *sql.DB and *sql.Tx satisfy it, which is
// how the merge engine stays transactionally coupled to its caller
// (invariant I3): pass a *sql.Tx in and every write lands in that
// transaction.
type DBHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ DBHandle = (*sql.DB)(nil)
	_ DBHandle = (*sql.Tx)(nil)
)
