package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/husbylabs/warptables/internal/store"
	_ "github.com/mattn/go-sqlite3"
)

// Schema creates the tables used by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS warp_tables (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateTable returns the table called name, creating it with the next
// free id (starting at 0) when missing.
func (s *SQLiteStore) GetOrCreateTable(ctx context.Context, name string) (*store.Table, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	table, err := scanTable(tx.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM warp_tables
		WHERE name = ?
	`, name))
	if err == nil {
		return table, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warp_tables (id, name)
		VALUES ((SELECT COALESCE(MAX(id) + 1, 0) FROM warp_tables), ?)
	`, name)
	if err != nil {
		return nil, false, fmt.Errorf("insert table: %w", err)
	}

	table, err = scanTable(tx.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM warp_tables
		WHERE name = ?
	`, name))
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return table, true, nil
}

// GetTableByName retrieves a table by name.
func (s *SQLiteStore) GetTableByName(ctx context.Context, name string) (*store.Table, error) {
	return scanTable(s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM warp_tables
		WHERE name = ?
	`, name))
}

// ListTables lists all tables ordered by id.
func (s *SQLiteStore) ListTables(ctx context.Context) ([]*store.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM warp_tables
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []*store.Table
	for rows.Next() {
		var table store.Table
		if err := rows.Scan(&table.ID, &table.Name, &table.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, &table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func scanTable(row *sql.Row) (*store.Table, error) {
	var table store.Table
	if err := row.Scan(&table.ID, &table.Name, &table.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("table: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query table: %w", err)
	}
	return &table, nil
}
