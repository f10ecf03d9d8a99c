package merge

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aphrodite-sh/cf-sqlite/pkg/clock"
	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
	"github.com/aphrodite-sh/cf-sqlite/pkg/schema"

	_ "modernc.org/sqlite"
)

// staticSource is the test double for the schema-introspection
// collaborator: a fixed TableInfo for table "t" with a single pk
// column "id" and a single cell column "name" at ordinal 0.
type staticSource struct{}

func (staticSource) ListTableInfo(ctx context.Context) ([]schema.TableInfo, error) {
	return []schema.TableInfo{{
		Name:     "t",
		PKs:      []schema.PKColumn{{Name: "id", Position: 0}},
		BaseCols: []schema.BaseColumn{{Name: "name"}},
	}}, nil
}

func setupEngineDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE "t" (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(clock.CreateTableDDL("t", []string{`"id" INTEGER`}, []string{"id"}))
	require.NoError(t, err)
	return db
}

func newTestEngine(t *testing.T, db *sql.DB) *Engine {
	dir := schema.NewDirectory(staticSource{})
	return NewEngine(db, dir, []byte{0x01})
}

func readRow(t *testing.T, db *sql.DB, id int) (name sql.NullString, found bool) {
	row := db.QueryRow(`SELECT name FROM "t" WHERE id = ?`, id)
	err := row.Scan(&name)
	if err == sql.ErrNoRows {
		return sql.NullString{}, false
	}
	require.NoError(t, err)
	return name, true
}

func TestEngine_FreshInsert(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	out, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'alice'"),
		Version: 7, SiteID: []byte{0x02},
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, int64(7), out.RowID)

	name, found := readRow(t, db, 1)
	require.True(t, found)
	assert.Equal(t, "alice", name.String)

	version, clockFound, err := clock.NewStore(db).LookupCellClock(ctx, "t", `"id"=1`, 0)
	require.NoError(t, err)
	require.True(t, clockFound)
	assert.Equal(t, int64(7), version)
}

func TestEngine_LosingUpdateIsRejectedWithoutWrites(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	_, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'alice'"),
		Version: 7, SiteID: []byte{0x02},
	})
	require.NoError(t, err)

	out, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'bob'"),
		Version: 6, SiteID: []byte{0x03},
	})
	require.NoError(t, err)
	assert.False(t, out.Applied)

	name, found := readRow(t, db, 1)
	require.True(t, found)
	assert.Equal(t, "alice", name.String)
}

func TestEngine_TieBrokenByHigherSite(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	_, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'alice'"),
		Version: 7, SiteID: []byte{0x02},
	})
	require.NoError(t, err)

	out, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'carol'"),
		Version: 7, SiteID: []byte{0x03},
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	name, found := readRow(t, db, 1)
	require.True(t, found)
	assert.Equal(t, "carol", name.String)
}

func TestEngine_DeleteWinsTerminal(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	_, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'alice'"),
		Version: 7, SiteID: []byte{0x02},
	})
	require.NoError(t, err)

	out, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: clock.DeleteCIDSentinel, Val: nil,
		Version: 8, SiteID: []byte{0x02},
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	_, found := readRow(t, db, 1)
	assert.False(t, found)

	// A later cell update for the same pk is absorbed: no resurrection.
	out, err = e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'dave'"),
		Version: 9, SiteID: []byte{0x02},
	})
	require.NoError(t, err)
	assert.False(t, out.Applied)

	_, found = readRow(t, db, 1)
	assert.False(t, found)
}

// TestEngine_TombstoneAbsorbsRepeatDelete pins the documented open
// question on tombstone monotonicity: a repeat delete for an
// already-tombstoned pk is idempotent OK and writes no further clock
// row, matching the source's early return on LocallyDeleted.
func TestEngine_TombstoneAbsorbsRepeatDelete(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	_, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: clock.DeleteCIDSentinel, Val: nil,
		Version: 8, SiteID: []byte{0x02},
	})
	require.NoError(t, err)

	out, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: clock.DeleteCIDSentinel, Val: nil,
		Version: 20, SiteID: []byte{0x03},
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	version, found, err := clock.NewStore(db).LookupCellClock(ctx, "t", `"id"=1`, clock.DeleteCIDSentinel)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(8), version, "the repeat delete must not overwrite the original tombstone clock")
}

func TestEngine_PkOnlyMaterialization(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	out, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("2"), CID: clock.PkOnlyCIDSentinel, Val: nil,
		Version: 3, SiteID: []byte{0x02},
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	name, found := readRow(t, db, 2)
	require.True(t, found)
	assert.False(t, name.Valid)

	// Merging it again yields identical state.
	out, err = e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("2"), CID: clock.PkOnlyCIDSentinel, Val: nil,
		Version: 3, SiteID: []byte{0x02},
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	name, found = readRow(t, db, 2)
	require.True(t, found)
	assert.False(t, name.Valid)
}

func TestEngine_SelfPatchRejected(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	_, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("3"), CID: 0, Val: []byte("'x'"),
		Version: 1, SiteID: []byte{0x01},
	})
	require.Error(t, err)
	var spe *crrerrors.SelfPatchError
	assert.ErrorAs(t, err, &spe)

	_, found := readRow(t, db, 3)
	assert.False(t, found)
}

func TestEngine_UnknownTable(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)

	_, err := e.Apply(context.Background(), ChangeRecord{
		Table: "nope", PK: []byte("1"), CID: 0, Val: []byte("'x'"),
		Version: 1, SiteID: []byte{0x02},
	})
	require.Error(t, err)
	var ute *crrerrors.UnknownTableError
	assert.ErrorAs(t, err, &ute)
}

func TestEngine_BadColumn(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)

	_, err := e.Apply(context.Background(), ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 5, Val: []byte("'x'"),
		Version: 1, SiteID: []byte{0x02},
	})
	require.Error(t, err)
	var bce *crrerrors.BadColumnError
	assert.ErrorAs(t, err, &bce)
}

func TestEngine_IdempotentCellApply(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	rec := ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'alice'"),
		Version: 7, SiteID: []byte{0x02},
	}
	_, err := e.Apply(ctx, rec)
	require.NoError(t, err)
	out, err := e.Apply(ctx, rec)
	require.NoError(t, err)
	assert.True(t, out.Applied, "re-applying at the same (version, site) must tie-accept, not error")

	name, found := readRow(t, db, 1)
	require.True(t, found)
	assert.Equal(t, "alice", name.String)
}

func TestEngine_SyncBitClearedAfterEachApply(t *testing.T) {
	db := setupEngineDB(t)
	e := newTestEngine(t, db)
	ctx := context.Background()

	_, err := e.Apply(ctx, ChangeRecord{
		Table: "t", PK: []byte("1"), CID: 0, Val: []byte("'alice'"),
		Version: 7, SiteID: []byte{0x02},
	})
	require.NoError(t, err)

	var count int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_temp_master WHERE name = '__crsql_sync_bit'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "sync bit must be cleared on every exit path")
}
