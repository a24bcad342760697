// Package hospitaldb holds the synthetic hospital-operations database the SQL
// agent queries: connection handling, schema introspection, read-only query
// execution and the seed data generator.
package hospitaldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ashureev/sqlchat/internal/shared"
)

// DefaultMaxRows caps the rows returned by Query.
const DefaultMaxRows = 200

var (
	// ErrReadOnly is returned for statements that could modify the database.
	ErrReadOnly = errors.New("only read-only SELECT queries are allowed")
	// ErrUnknownTable is returned when a schema is requested for a missing table.
	ErrUnknownTable = errors.New("unknown table")
)

var readOnlyPrefix = regexp.MustCompile(`(?is)^\s*(select|with|explain)\b`)

// DB is the hospital operations database.
type DB struct {
	db      *sql.DB
	maxRows int
}

// Open opens (creating if needed) the hospital database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := shared.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, maxRows: DefaultMaxRows}, nil
}

// Ping verifies database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close hospital database: %w", err)
	}
	return nil
}

// Tables returns the user tables in creation order.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// QueryResult is the tabular result of a read-only query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Query runs a single read-only statement. The connection is switched to
// query_only for the duration of the call so writes fail even when they
// slip past the statement check.
func (d *DB) Query(ctx context.Context, query string) (*QueryResult, error) {
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(query, ";")
	if !readOnlyPrefix.MatchString(query) || strings.Contains(query, ";") {
		return nil, ErrReadOnly
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("enable query_only: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")
	}()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows, d.maxRows)
}

func scanRows(rows *sql.Rows, limit int) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	res := &QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if limit > 0 && len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
