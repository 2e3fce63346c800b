package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a table does not exist.
var ErrNotFound = errors.New("not found")

// Table is a persisted table name with its id.
type Table struct {
	ID        int32
	Name      string
	CreatedAt time.Time
}

// TableStore handles table persistence.
type TableStore interface {
	// GetOrCreateTable returns the table called name, assigning the next id
	// when it does not exist yet. created reports whether it was new.
	GetOrCreateTable(ctx context.Context, name string) (table *Table, created bool, err error)

	// GetTableByName retrieves a table by name.
	GetTableByName(ctx context.Context, name string) (*Table, error)

	// ListTables lists all tables ordered by id.
	ListTables(ctx context.Context) ([]*Table, error)
}

// Store combines all storage interfaces.
type Store interface {
	TableStore

	// Close closes the underlying storage connection.
	Close() error
}
