// Package schema describes the read-only TableInfo directory the merge
// engine consumes. The directory itself is produced by a
// schema-introspection collaborator (out of scope here, consumed
// through the Source interface); this package only models the shape of
// that data and coalesces concurrent refreshes against it.
package schema

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
)

// PKColumn is one primary-key column of a CRR, in its declared
// position.
type PKColumn struct {
	Name     string
	Position int
}

// BaseColumn is one non-meta column of a CRR's base table.
type BaseColumn struct {
	Name string
}

// TableInfo is everything the merge engine needs to know about one CRR:
// its name, its ordered primary-key columns, and its ordered base
// columns.
type TableInfo struct {
	Name     string
	PKs      []PKColumn
	BaseCols []BaseColumn
}

// BaseColsLen is the bound a non-sentinel cid must fall under.
func (t TableInfo) BaseColsLen() int { return len(t.BaseCols) }

// PKNames returns the primary-key column names in declared order.
func (t TableInfo) PKNames() []string {
	names := make([]string, len(t.PKs))
	for i, pk := range t.PKs {
		names[i] = pk.Name
	}
	return names
}

// Source is the schema-introspection collaborator: it produces the full
// set of known CRRs. The merge
// engine never builds this itself; it only consumes it.
type Source interface {
	ListTableInfo(ctx context.Context) ([]TableInfo, error)
}

// Directory is a read-through cache over a Source, refreshed on
// demand. Concurrent Refresh calls for overlapping merges on different
// goroutines sharing one connection pool are coalesced with
// singleflight so a refresh storm doesn't hammer the collaborator.
type Directory struct {
	src   Source
	group singleflight.Group

	mu     sync.RWMutex
	tables map[string]TableInfo
}

// NewDirectory wraps a Source in a Directory. The directory is empty
// until the first Refresh.
func NewDirectory(src Source) *Directory {
	return &Directory{src: src, tables: make(map[string]TableInfo)}
}

// Refresh reloads the full table set from the collaborator. Overlapping
// calls share one underlying ListTableInfo invocation.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (any, error) {
		list, err := d.src.ListTableInfo(ctx)
		if err != nil {
			return nil, err
		}
		tables := make(map[string]TableInfo, len(list))
		for _, ti := range list {
			tables[ti.Name] = ti
		}
		d.mu.Lock()
		d.tables = tables
		d.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return crrerrors.NewSchemaError("failed to update crr table information", err)
	}
	return nil
}

// Lookup resolves a TableInfo by name against the last-refreshed set.
func (d *Directory) Lookup(name string) (TableInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ti, ok := d.tables[name]
	return ti, ok
}
