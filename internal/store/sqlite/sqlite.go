// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlite is the embedded store driver. Every subject is a single
// database file at <data_dir>/<subject>/<subject>.db, so one subject's
// connections can never see another subject's tables.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"nlcube/cli/internal/store"
)

const fileExt = ".db"

// Driver manages subject files below a data directory.
type Driver struct {
	dataDir string
}

// New returns a driver rooted at dataDir, creating it if missing.
func New(dataDir string) (*Driver, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Driver{dataDir: dataDir}, nil
}

func (d *Driver) Name() string { return "sqlite" }

// DataDir returns the directory holding every subject.
func (d *Driver) DataDir() string { return d.dataDir }

func (d *Driver) Locate(subject string) string {
	return filepath.Join(d.dataDir, subject, subject+fileExt)
}

func (d *Driver) Create(ctx context.Context, subject string) error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, subject), 0o755); err != nil {
		return err
	}
	h, err := d.Open(ctx, d.Locate(subject))
	if err != nil {
		return err
	}
	return h.Close()
}

func (d *Driver) Destroy(_ context.Context, subject string) error {
	return os.RemoveAll(filepath.Join(d.dataDir, subject))
}

// Discover returns, sorted, every directory that holds a matching database file.
func (d *Driver) Discover(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(d.Locate(e.Name())); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Open opens a single-connection handle on the file at path.
func (d *Driver) Open(ctx context.Context, path string) (store.Handle, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	h := NewHandle(db)
	if err := h.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// Handle runs statements over a database/sql pool limited to one connection.
type Handle struct {
	db *sql.DB
}

// NewHandle wraps an open *sql.DB.
func NewHandle(db *sql.DB) *Handle {
	return &Handle{db: db}
}

func (h *Handle) Ping(ctx context.Context) error {
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return classify(err)
	}
	return nil
}

func (h *Handle) Query(ctx context.Context, query string) (*store.Rowset, error) {
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, classify(err)
	}
	rs := &store.Rowset{Columns: make([]store.Column, len(types))}
	for i, ct := range types {
		rs.Columns[i] = store.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return rs, nil
}

const (
	listTablesSQL = `SELECT name FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY rowid`
	tableInfoSQL = `SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`
)

func (h *Handle) Introspect(ctx context.Context) ([]store.Table, error) {
	rows, err := h.db.QueryContext(ctx, listTablesSQL)
	if err != nil {
		return nil, classify(err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, classify(err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	tables := make([]store.Table, 0, len(names))
	for _, name := range names {
		t := store.Table{Name: name}
		cols, err := h.db.QueryContext(ctx, tableInfoSQL, name)
		if err != nil {
			return nil, classify(err)
		}
		for cols.Next() {
			var (
				c       store.TableColumn
				notNull int
			)
			if err := cols.Scan(&c.Name, &c.Type, &notNull); err != nil {
				cols.Close()
				return nil, classify(err)
			}
			c.Nullable = notNull == 0
			t.Columns = append(t.Columns, c)
		}
		cols.Close()
		if err := cols.Err(); err != nil {
			return nil, classify(err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (h *Handle) Close() error { return h.db.Close() }

func classify(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", store.ErrBadHandle, err)
	}
	return err
}
