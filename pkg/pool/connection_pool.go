// Package pool wraps *sql.DB connection pools for the sqlite handles a
// merge-engine process opens, and registers them by name so a process
// juggling several replicas' databases can look one up by site.
package pool

import (
	"database/sql"
	"sync"
	"time"
)

// SQLConnectionPool wraps a *sql.DB, applying the open/idle limits and
// connection lifetime a merge engine needs from its embedded sqlite
// handle.
type SQLConnectionPool struct {
	db      *sql.DB
	maxOpen int
	maxIdle int
}

// NewSQLConnectionPool configures db's pool limits and returns a handle
// to it.
func NewSQLConnectionPool(db *sql.DB, maxOpen, maxIdle int) *SQLConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	return &SQLConnectionPool{
		db:      db,
		maxOpen: maxOpen,
		maxIdle: maxIdle,
	}
}

// GetDB returns the underlying *sql.DB.
func (p *SQLConnectionPool) GetDB() *sql.DB {
	return p.db
}

// Stats returns database/sql's own pool statistics.
func (p *SQLConnectionPool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the underlying *sql.DB.
func (p *SQLConnectionPool) Close() error {
	return p.db.Close()
}

// ConnectionManager is a registry of named SQLConnectionPools, for a
// process that merges change records against more than one database.
type ConnectionManager struct {
	pools map[string]*SQLConnectionPool
	mu    sync.RWMutex
}

// NewConnectionManager returns an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		pools: make(map[string]*SQLConnectionPool),
	}
}

// RegisterPool wraps db in a SQLConnectionPool and registers it under
// name, replacing any pool already registered there.
func (m *ConnectionManager) RegisterPool(name string, db *sql.DB, maxOpen, maxIdle int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pools[name] = NewSQLConnectionPool(db, maxOpen, maxIdle)
}

// GetPool looks up a registered pool by name.
func (m *ConnectionManager) GetPool(name string) (*SQLConnectionPool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[name]
	return p, ok
}

// Close closes every registered pool and empties the registry,
// returning the last error encountered, if any.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for _, p := range m.pools {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	m.pools = make(map[string]*SQLConnectionPool)

	return lastErr
}
