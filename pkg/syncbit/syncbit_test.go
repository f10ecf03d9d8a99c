package syncbit

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func getTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	var got string
	err := db.QueryRow(
		"SELECT name FROM sqlite_temp_master WHERE type='table' AND name=?", name,
	).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return got == name
}

func TestAcquireSetsTheFlag(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()

	g, err := Acquire(ctx, db)
	require.NoError(t, err)
	defer g.Release(ctx)

	assert.True(t, tableExists(t, db, "__crsql_sync_bit"))
}

func TestReleaseClearsTheFlag(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()

	g, err := Acquire(ctx, db)
	require.NoError(t, err)

	g.Release(ctx)

	assert.False(t, tableExists(t, db, "__crsql_sync_bit"))
}

func TestReleaseIsIdempotent(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()

	g, err := Acquire(ctx, db)
	require.NoError(t, err)

	g.Release(ctx)
	assert.NotPanics(t, func() { g.Release(ctx) })
}

func TestReleaseOnNilGuardIsSafe(t *testing.T) {
	var g *Guard
	assert.NotPanics(t, func() { g.Release(context.Background()) })
}
