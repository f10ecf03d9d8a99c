// Command mergebench applies a JSON-described sequence of change
// records against a throwaway sqlite database and prints the outcome
// of each merge. It exists to exercise pkg/merge end-to-end outside of
// the test suite; it is not the schema-introspection collaborator or
// the virtual-table plumbing, both out of scope per spec.md §1 — this
// CLI stands in for them with the smallest static surface that can
// drive the engine.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/aphrodite-sh/cf-sqlite/pkg/clock"
	"github.com/aphrodite-sh/cf-sqlite/pkg/config"
	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
	"github.com/aphrodite-sh/cf-sqlite/pkg/merge"
	"github.com/aphrodite-sh/cf-sqlite/pkg/observability"
	"github.com/aphrodite-sh/cf-sqlite/pkg/pkcodec"
	"github.com/aphrodite-sh/cf-sqlite/pkg/pool"
	"github.com/aphrodite-sh/cf-sqlite/pkg/reliability"
	"github.com/aphrodite-sh/cf-sqlite/pkg/schema"
)

// tableDef is one CRR declared in the records file: enough to build its
// user table, its clock table, and the TableInfo the engine consumes.
type tableDef struct {
	Name     string   `json:"name"`
	PKNames  []string `json:"pks"`
	BaseCols []string `json:"base_cols"`
}

// recordDef is one change record in wire-ish JSON form: PK is the list
// of pk literal fields (quoted where needed), NUL-joined into the packed
// form pkcodec.Split expects; Val is a single literal field.
type recordDef struct {
	Table   string   `json:"table"`
	PK      []string `json:"pk"`
	CID     int32    `json:"cid"`
	Val     string   `json:"val"`
	Version int64    `json:"version"`
	SiteID  string   `json:"site_id"` // hex-encoded, empty means NULL
}

type benchFile struct {
	Tables  []tableDef  `json:"tables"`
	Records []recordDef `json:"records"`
}

// staticSource is a schema.Source fixed at startup from the records
// file's "tables" section — a stand-in for the real schema-
// introspection collaborator, which is out of scope here.
type staticSource struct {
	tables []schema.TableInfo
}

func (s staticSource) ListTableInfo(ctx context.Context) ([]schema.TableInfo, error) {
	return s.tables, nil
}

func main() {
	dbPath := flag.String("db", ":memory:", "sqlite database path (:memory: for a throwaway db)")
	configPath := flag.String("config", "", "path to a JSON config file (defaults used when empty)")
	recordsPath := flag.String("records", "", "path to a JSON file describing tables and change records to apply")
	localSiteHex := flag.String("local-site", "", "override the local site id (hex); defaults to the config's site id")
	flag.Parse()

	if *recordsPath == "" {
		log.Fatal("mergebench: -records is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("mergebench: loading config: %v", err)
	}

	localSiteID, err := resolveLocalSiteID(*localSiteHex, cfg)
	if err != nil {
		log.Fatalf("mergebench: %v", err)
	}

	data, err := os.ReadFile(*recordsPath)
	if err != nil {
		log.Fatalf("mergebench: reading records file: %v", err)
	}
	var bf benchFile
	if err := json.Unmarshal(data, &bf); err != nil {
		log.Fatalf("mergebench: parsing records file: %v", err)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("mergebench: opening database: %v", err)
	}
	manager := pool.NewConnectionManager()
	defer manager.Close()
	manager.RegisterPool("default", db, cfg.Connection.MaxOpen, cfg.Connection.MaxIdle)
	connPool, ok := manager.GetPool("default")
	if !ok {
		log.Fatal("mergebench: internal error: default pool not registered")
	}

	tables, err := provisionTables(context.Background(), connPool.GetDB(), bf.Tables)
	if err != nil {
		log.Fatalf("mergebench: provisioning tables: %v", err)
	}

	dir := schema.NewDirectory(staticSource{tables: tables})
	recovery := newRecoveryManager(cfg.Retry)

	counters := observability.NewCounters()
	ctx := context.Background()

	for i, rd := range bf.Records {
		rec, err := toChangeRecord(rd)
		if err != nil {
			log.Fatalf("mergebench: record %d: %v", i, err)
		}

		outcome, err := applyWithRetry(ctx, connPool.GetDB(), dir, localSiteID, cfg, recovery, rec)
		if err != nil {
			counters.Record(observability.KindErrored)
			fmt.Printf("record %d (%s pk=%v cid=%d v=%d site=%x): ERROR %v\n",
				i, rec.Table, rd.PK, rec.CID, rec.Version, rec.SiteID, err)
			continue
		}
		if outcome.Applied {
			counters.Record(observability.KindApplied)
			fmt.Printf("record %d (%s pk=%v cid=%d v=%d site=%x): applied (row_id=%d)\n",
				i, rec.Table, rd.PK, rec.CID, rec.Version, rec.SiteID, outcome.RowID)
		} else {
			counters.Record(observability.KindRejected)
			fmt.Printf("record %d (%s pk=%v cid=%d v=%d site=%x): rejected\n",
				i, rec.Table, rd.PK, rec.CID, rec.Version, rec.SiteID)
		}
	}

	snap := counters.Snapshot()
	fmt.Printf("\napplied=%d rejected=%d errored=%d\n",
		snap[observability.KindApplied], snap[observability.KindRejected], snap[observability.KindErrored])
}

// newRecoveryManager builds an ErrorRecoveryManager from the configured
// retry policy, registered for both error classes the merge engine's
// DBHandle can fail with: opening the connection (ErrorTypeConnection)
// and running the merge's own transaction (ErrorTypeTransaction).
func newRecoveryManager(cfg config.RetryConfig) *reliability.ErrorRecoveryManager {
	strategy := &reliability.RecoveryStrategy{
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
		BackoffFactor: cfg.BackoffFactor,
	}
	m := reliability.NewErrorRecoveryManager()
	m.RegisterStrategy(reliability.ErrorTypeConnection, strategy)
	m.RegisterStrategy(reliability.ErrorTypeTransaction, strategy)
	return m
}

// applyWithRetry runs one change record through a fresh merge.Engine
// bound to its own *sql.Tx, so the user-table write and its clock
// upsert (§4.6-4.9) commit or roll back together (I3). A transient
// DbError from the transaction or the engine is retried per recovery's
// policy; a merge rejection or validation error (SelfPatchError,
// UnknownTableError, ...) is not a DbError and is returned immediately,
// per reliability.IsRetryable.
func applyWithRetry(ctx context.Context, db *sql.DB, dir *schema.Directory, localSiteID []byte, cfg *config.Config, recovery *reliability.ErrorRecoveryManager, rec merge.ChangeRecord) (merge.Outcome, error) {
	var outcome merge.Outcome
	err := recovery.ExecuteWithRetry(reliability.ErrorTypeTransaction, func() error {
		tx, txErr := db.BeginTx(ctx, nil)
		if txErr != nil {
			return crrerrors.NewDbError("failed beginning merge transaction", txErr)
		}

		engine := merge.NewEngine(tx, dir, localSiteID)
		engine.MaxTableNameLen = cfg.Merge.MaxTableNameLen
		engine.MaxSiteIDLen = cfg.Merge.MaxSiteIDLen

		out, applyErr := engine.Apply(ctx, rec)
		if applyErr != nil {
			_ = tx.Rollback()
			return applyErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return crrerrors.NewDbError("failed committing merge transaction", commitErr)
		}
		outcome = out
		return nil
	})
	return outcome, err
}

func resolveLocalSiteID(overrideHex string, cfg *config.Config) ([]byte, error) {
	if overrideHex != "" {
		b, err := hex.DecodeString(overrideHex)
		if err != nil {
			return nil, fmt.Errorf("invalid -local-site hex: %w", err)
		}
		return b, nil
	}
	b, err := cfg.SiteIDBytes()
	if err != nil {
		return nil, fmt.Errorf("resolving local site id from config: %w", err)
	}
	return b, nil
}

func toChangeRecord(rd recordDef) (merge.ChangeRecord, error) {
	var siteID []byte
	if rd.SiteID != "" {
		b, err := hex.DecodeString(rd.SiteID)
		if err != nil {
			return merge.ChangeRecord{}, fmt.Errorf("invalid site_id hex %q: %w", rd.SiteID, err)
		}
		siteID = b
	}
	return merge.ChangeRecord{
		Table:   rd.Table,
		PK:      []byte(strings.Join(rd.PK, "\x00")),
		CID:     rd.CID,
		Val:     []byte(rd.Val),
		Version: rd.Version,
		SiteID:  siteID,
	}, nil
}

// provisionTables creates the user table and clock shadow table for
// each declared CRR (every column typed as generic TEXT/INTEGER-free
// sqlite storage, since the value domain is driven entirely by the
// packed literals on the wire) and returns the schema.TableInfo set the
// static collaborator will serve.
func provisionTables(ctx context.Context, db *sql.DB, defs []tableDef) ([]schema.TableInfo, error) {
	infos := make([]schema.TableInfo, 0, len(defs))
	for _, def := range defs {
		if len(def.PKNames) == 0 {
			return nil, fmt.Errorf("table %q declares no primary-key columns", def.Name)
		}

		var cols []string
		pkSet := make(map[string]bool, len(def.PKNames))
		for _, pk := range def.PKNames {
			pkSet[pk] = true
			cols = append(cols, fmt.Sprintf(`"%s"`, pk))
		}
		for _, c := range def.BaseCols {
			if pkSet[c] {
				continue
			}
			cols = append(cols, fmt.Sprintf(`"%s"`, c))
		}

		createUser := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS "%s" (%s, PRIMARY KEY (%s))`,
			def.Name, strings.Join(cols, ", "), pkcodec.QuoteIdentifierList(def.PKNames))
		if _, err := db.ExecContext(ctx, createUser); err != nil {
			return nil, fmt.Errorf("creating user table %q: %w", def.Name, err)
		}

		pkDefs := make([]string, len(def.PKNames))
		for i, name := range def.PKNames {
			pkDefs[i] = fmt.Sprintf(`"%s"`, name)
		}
		createClock := clock.CreateTableDDL(def.Name, pkDefs, def.PKNames)
		if _, err := db.ExecContext(ctx, createClock); err != nil {
			return nil, fmt.Errorf("creating clock table for %q: %w", def.Name, err)
		}

		ti := schema.TableInfo{Name: def.Name}
		for i, name := range def.PKNames {
			ti.PKs = append(ti.PKs, schema.PKColumn{Name: name, Position: i})
		}
		for _, name := range def.BaseCols {
			ti.BaseCols = append(ti.BaseCols, schema.BaseColumn{Name: name})
		}
		infos = append(infos, ti)
	}
	return infos, nil
}
