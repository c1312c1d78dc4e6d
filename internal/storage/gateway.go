// Package storage defines the row store the sync engine writes to: the
// Gateway contract, equality predicates, StoreError, and a registry of
// backends (sqlite, postgres, mssql) that register themselves from init.
// Observe wraps any Gateway to publish a Change after each committed mutation.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a Gateway.
//
// When to use:
//   - Pass Config to Open once at process start.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Rows is the result of a Query. Values are ordered like Columns.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of rows.
func (r Rows) Len() int { return len(r.Values) }

// Gateway is the backend-agnostic store contract consumed by the sync engine.
//
// IMPORTANT: every mutating call is atomic. BulkInsert commits all rows or
// none, and ReplacePartition runs its delete and insert inside one transaction
// so concurrent readers never observe an empty partition.
type Gateway interface {
	// Close releases backend resources. Treat it as "call once".
	Close()

	// EnsureTables creates missing tables. It is idempotent.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Query returns the requested columns of rows matching where.
	Query(ctx context.Context, table string, columns []string, where Predicate, args []any) (Rows, error)

	// Delete removes rows matching where and returns the count.
	Delete(ctx context.Context, table string, where Predicate, args []any) (int64, error)

	// BulkInsert inserts rows atomically and returns the inserted count.
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Update sets columns to values on rows matching where.
	Update(ctx context.Context, table string, columns []string, values []any, where Predicate, args []any) (int64, error)

	// ReplacePartition deletes rows matching where and inserts rows, in one transaction.
	ReplacePartition(ctx context.Context, table string, where Predicate, args []any, columns []string, rows [][]any) (deleted, inserted int64, err error)
}

type factory func(ctx context.Context, cfg Config) (Gateway, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f factory) {
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

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// Open constructs a Gateway using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Gateway, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
