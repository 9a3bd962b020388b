// Package store provides the embedded persistence layer for payment forms
// and transactions: a bounded connection pool over a single SQLite file,
// schema migrations tracked by the database's own user-version counter,
// and the atomic settlement transaction that is the engine's single
// source of truth about what has been paid.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultQueryTimeout bounds each Exec call. QueryRow and Query run under
// the caller's context, because their results are read after they return.
const DefaultQueryTimeout = 30 * time.Second

// PoolConfig configures the embedded database and its connection pool.
type PoolConfig struct {
	Path           string
	PoolSize       int
	AcquireTimeout time.Duration
	CacheSize      int
	MmapSize       int64
}

// DefaultPoolConfig mirrors the reference engine's defaults.
func DefaultPoolConfig(path string) PoolConfig {
	return PoolConfig{
		Path:           path,
		PoolSize:       5,
		AcquireTimeout: 10 * time.Second,
		CacheSize:      -2000,
		MmapSize:       268435456,
	}
}

// DB wraps a single SQLite file behind a bounded pool of logical slots.
// database/sql already multiplexes real connections safely, but the
// reference engine's contract (preallocated fixed-size pool, liveness
// probe before use, exhaustion spawns a temporary unreturned handle) is
// layered on top via a counting semaphore so the behavior matches even
// though the underlying driver is already connection-safe.
type DB struct {
	sqlDB *sql.DB
	cfg   PoolConfig
	slots chan struct{}
	mu    sync.Mutex // serializes settle_atomic; see settle.go
}

// Open creates the database file if needed, applies the pragmas the
// reference engine depends on (WAL journal, normal sync, sized page
// cache, memory temp store, mmap), and preallocates the pool.
func Open(cfg PoolConfig) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", cfg.Path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=%d", cfg.CacheSize),
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA mmap_size=%d", cfg.MmapSize),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("store: apply %q: %w", p, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	slots := make(chan struct{}, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		slots <- struct{}{}
	}

	return &DB{sqlDB: sqlDB, cfg: cfg, slots: slots}, nil
}

// Close shuts down the underlying database.
func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// acquire reserves a pool slot, probes the connection's liveness with a
// trivial SELECT 1, and returns a release function guaranteed to run on
// every exit path. If no slot frees up within the pool's acquire
// timeout, a temporary, unreturned slot is used instead so the caller is
// never blocked indefinitely, at the cost of temporarily exceeding the
// nominal pool size.
func (db *DB) acquire(ctx context.Context) (release func(), temporary bool) {
	select {
	case <-db.slots:
		if err := db.probe(ctx); err != nil {
			slog.Warn("store: discarding unhealthy connection slot", "error", err)
		}
		return func() { db.slots <- struct{}{} }, false
	case <-time.After(db.cfg.AcquireTimeout):
		slog.Warn("store: pool exhausted, using temporary connection", "pool_size", db.cfg.PoolSize)
		return func() {}, true
	case <-ctx.Done():
		return func() {}, true
	}
}

func (db *DB) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return db.sqlDB.QueryRowContext(probeCtx, "SELECT 1").Scan(&one)
}

// Exec runs a statement with a scoped connection slot and the default
// query timeout.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	release, _ := db.acquire(ctx)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	return db.sqlDB.ExecContext(ctx, query, args...)
}

// QueryRow runs a single-row query with a scoped connection slot.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	release, _ := db.acquire(ctx)
	defer release()

	return db.sqlDB.QueryRowContext(ctx, query, args...)
}

// Query runs a multi-row query with a scoped connection slot. The
// returned rows must be closed by the caller.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	release, _ := db.acquire(ctx)
	defer release()

	return db.sqlDB.QueryContext(ctx, query, args...)
}

// BeginTx starts a transaction with a scoped connection slot. The caller
// owns commit/rollback; the slot is released once Commit or Rollback
// returns.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, func(), error) {
	release, _ := db.acquire(ctx)
	tx, err := db.sqlDB.BeginTx(ctx, opts)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return tx, release, nil
}

// Raw exposes the underlying *sql.DB for the migration runner, which
// needs direct access to apply PRAGMA user_version outside the pool
// accounting above.
func (db *DB) Raw() *sql.DB { return db.sqlDB }
