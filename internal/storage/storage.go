// Package storage defines the backend-agnostic contract for the bulk
// ingestion destination, plus the backend factory registry.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSourceExists is returned by Session.InsertSource when the source name
// hits the destination's uniqueness constraint. The engine resolves the
// race with a lookup and a single retry.
var ErrSourceExists = errors.New("storage: source name already exists")

// Config is the minimal configuration needed to open a Loader.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string

	// AppendixTable is the destination table for appendix rows; set from
	// the schema document.
	AppendixTable string
}

// AppendixRow is one resolved appendix value ready for insert. LeadID and
// SourceID are real generated keys by the time a row reaches the backend.
type AppendixRow struct {
	LeadID    int64
	SourceID  int64
	UploadTag string
	RowNumber int
	Column    string
	Value     string
}

// Loader is a destination the ingest engine can open transactions against.
type Loader interface {
	// Close releases backend resources. Treat as "call once".
	Close()

	// Begin opens the single transaction one file's ingestion runs in.
	Begin(ctx context.Context) (Session, error)
}

// Session is one ingestion transaction. Every mutation below happens inside
// it; nothing is visible to readers until Commit. Implementations are not
// safe for concurrent use.
//
// IMPORTANT: InsertLeads must return generated identifiers in the same
// order as the submitted rows, even when the destination's bulk-insert
// mechanism does not guarantee return order. Backends achieve this by
// tagging each row with its ordinal position and sorting by it before
// returning identifiers.
type Session interface {
	// VerifyTables confirms every named table exists. Missing tables are a
	// fatal precondition failure; the hardened path never creates schema.
	VerifyTables(ctx context.Context, tables []string) error

	// InsertSource inserts a new source row and returns its id. Returns
	// ErrSourceExists (possibly wrapped) on a name uniqueness conflict.
	InsertSource(ctx context.Context, name, notes string) (int64, error)

	// FindSource looks a source up by name, case-insensitively.
	FindSource(ctx context.Context, name string) (id int64, found bool, err error)

	// InsertLeads bulk-inserts one batch of lead rows and returns their
	// generated ids in submission order. sourceID is attached to every row.
	InsertLeads(ctx context.Context, columns []string, rows [][]any, sourceID int64) ([]int64, error)

	// InsertOwners bulk-inserts one batch of owner rows, row i bound to
	// leadIDs[i]. len(rows) must equal len(leadIDs).
	InsertOwners(ctx context.Context, columns []string, rows [][]any, leadIDs []int64) error

	// InsertAppendix bulk-inserts resolved appendix rows into table.
	InsertAppendix(ctx context.Context, table string, rows []AppendixRow) error

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Safe to call after Commit; backends
	// treat that as a no-op.
	Rollback(ctx context.Context) error
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Loader, error)

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
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Intentional, to fail fast on
//     ambiguous backend selection.
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

// New constructs a Loader using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or unsupported.
//   - Whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Loader, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
