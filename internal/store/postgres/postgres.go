// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package postgres is the server-backed store driver. Each subject is a
// schema in one database; connections pin search_path to their subject's
// schema and subjects are recognized by a schema comment.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"nlcube/cli/internal/dsn"
	"nlcube/cli/internal/store"
)

const subjectComment = "nlcube subject"

// Driver opens pgx connections against one database.
type Driver struct {
	dsn string
}

// New validates and normalizes connString.
func New(connString string) (*Driver, error) {
	normalized, err := dsn.Normalize(connString)
	if err != nil {
		return nil, err
	}
	return &Driver{dsn: normalized}, nil
}

func (d *Driver) Name() string { return "postgres" }

// Locate returns the schema name; the schema is the subject's storage.
func (d *Driver) Locate(subject string) string { return subject }

func (d *Driver) admin(ctx context.Context, fn func(*pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, d.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return fn(conn)
}

func (d *Driver) Create(ctx context.Context, subject string) error {
	ident := pgx.Identifier{subject}.Sanitize()
	return d.admin(ctx, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, fmt.Sprintf("COMMENT ON SCHEMA %s IS '%s'", ident, subjectComment))
		return err
	})
}

func (d *Driver) Destroy(ctx context.Context, subject string) error {
	return d.admin(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{subject}.Sanitize()+" CASCADE")
		return err
	})
}

const discoverSQL = `SELECT nspname FROM pg_namespace
WHERE obj_description(oid, 'pg_namespace') = $1
ORDER BY nspname`

func (d *Driver) Discover(ctx context.Context) ([]string, error) {
	var out []string
	err := d.admin(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, discoverSQL, subjectComment)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	return out, err
}

// Open connects with search_path pinned to the schema at path.
func (d *Driver) Open(ctx context.Context, path string) (store.Handle, error) {
	cfg, err := pgx.ParseConfig(d.dsn)
	if err != nil {
		return nil, err
	}
	cfg.RuntimeParams["search_path"] = path
	cfg.RuntimeParams["application_name"] = "nlcube"
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	h := &Handle{conn: conn, schema: path}
	if err := h.Ping(ctx); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	return h, nil
}

// Handle wraps one pgx connection.
type Handle struct {
	conn   *pgx.Conn
	schema string
}

func (h *Handle) Ping(ctx context.Context) error {
	var one int
	if err := h.conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return h.classify(err)
	}
	return nil
}

func (h *Handle) Query(ctx context.Context, sql string) (*store.Rowset, error) {
	rows, err := h.conn.Query(ctx, sql)
	if err != nil {
		return nil, h.classify(err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	rs := &store.Rowset{Columns: make([]store.Column, len(fds))}
	for i, fd := range fds {
		col := store.Column{Name: fd.Name}
		if t, ok := h.conn.TypeMap().TypeForOID(fd.DataTypeOID); ok {
			col.Type = t.Name
		}
		rs.Columns[i] = col
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, h.classify(err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, h.classify(err)
	}
	return rs, nil
}

const introspectSQL = `SELECT c.relname, a.attname, format_type(a.atttypid, a.atttypmod), NOT a.attnotnull
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
WHERE n.nspname = $1 AND c.relkind IN ('r', 'v', 'm', 'p', 'f')
ORDER BY c.oid, a.attnum`

type columnRow struct {
	Table    string
	Column   string
	Type     string
	Nullable bool
}

func (h *Handle) Introspect(ctx context.Context) ([]store.Table, error) {
	rows, err := h.conn.Query(ctx, introspectSQL, h.schema)
	if err != nil {
		return nil, h.classify(err)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (columnRow, error) {
		var c columnRow
		err := row.Scan(&c.Table, &c.Column, &c.Type, &c.Nullable)
		return c, err
	})
	if err != nil {
		return nil, h.classify(err)
	}
	return group(cols), nil
}

// group folds rows ordered by table into tables, keeping first-seen order.
func group(cols []columnRow) []store.Table {
	var tables []store.Table
	for _, c := range cols {
		if n := len(tables); n == 0 || tables[n-1].Name != c.Table {
			tables = append(tables, store.Table{Name: c.Table})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, store.TableColumn{Name: c.Column, Type: c.Type, Nullable: c.Nullable})
	}
	return tables
}

func (h *Handle) Close() error { return h.conn.Close(context.Background()) }

func (h *Handle) classify(err error) error {
	if h.conn.IsClosed() {
		return fmt.Errorf("%w: %v", store.ErrBadHandle, err)
	}
	return err
}

// normalize converts pgx-specific values into plain Go values the columnar
// encoder understands.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case netip.Prefix:
		return x.String()
	case netip.Addr:
		return x.String()
	case time.Duration:
		return x.String()
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		return time.Duration(x.Microseconds * int64(time.Microsecond)).String()
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		return fmt.Sprintf("%d months %d days %dus", x.Months, x.Days, x.Microseconds)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return v
}
