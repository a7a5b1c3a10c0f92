package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Repository.
//
// When to use:
//   - Pass to New with Kind set to a registered backend ("sqlite", "postgres",
//     "mssql", "duckdb").
//
// Edge cases:
//   - DSN is passed through untouched; each backend validates it on open.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic write surface used by the loader.
//
// Each backend implements the insert-or-ignore semantics in its own dialect
// (SQLite OR IGNORE, Postgres ON CONFLICT, SQL Server NOT EXISTS, DuckDB
// ON CONFLICT). No method opens a transaction spanning more than one call.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates missing tables and their constraints. Existing
	// tables are left untouched.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// EnsureRows inserts rows whose conflictColumns values are not present yet.
	// Rows that already exist are skipped, so repeated calls are idempotent.
	// conflictColumns must match a UNIQUE or PRIMARY KEY constraint.
	//
	// Only a conflict on conflictColumns is guaranteed to be skipped. A row that
	// collides on another constraint (usually the id primary key) with new
	// conflictColumns values is backend dependent: SQLite OR IGNORE drops it
	// silently, while Postgres, SQL Server and DuckDB fail the statement.
	// Callers that assign ids themselves must read the stored mapping back and
	// compare; see load.Loader.VerifyIndicatorIDs.
	EnsureRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)

	// InsertFactRows appends rows without any conflict handling.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// SelectKeyValue returns CompositeKey(keyColumns...) -> valueColumn for
	// every row in table.
	SelectKeyValue(ctx context.Context, table string, keyColumns []string, valueColumn string) (map[string]int64, error)

	// CountRows returns the number of rows in table.
	CountRows(ctx context.Context, table string) (int64, error)

	// DeleteAll removes every row from table and returns how many were removed.
	DeleteAll(ctx context.Context, table string) (int64, error)
}

// Factory opens a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available to New under kind.
//
// When to use:
//   - From an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Ambiguous
//     backend selection should fail at startup.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
//
// Errors:
//   - cfg.Kind is empty or not registered (the backend package was not imported).
//   - whatever the backend factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
