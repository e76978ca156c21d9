// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlcube/cli/internal/store"
)

func TestDriverLifecycle(t *testing.T) {
	ctx := context.Background()
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Create(ctx, "sales"))
	require.NoError(t, d.Create(ctx, "hr"))
	require.NoError(t, os.MkdirAll(filepath.Join(d.DataDir(), "not_a_subject"), 0o755))

	subjects, err := d.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "sales"}, subjects)

	require.NoError(t, d.Destroy(ctx, "hr"))
	subjects, err = d.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, subjects)
}

func TestHandleQueryAndIntrospect(t *testing.T) {
	ctx := context.Background()
	d, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, d.Create(ctx, "sales"))

	h, err := d.Open(ctx, d.Locate("sales"))
	require.NoError(t, err)
	defer h.Close()

	for _, stmt := range []string{
		`CREATE TABLE orders (order_id INTEGER NOT NULL, amount DOUBLE)`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO orders VALUES (1, 10.5), (2, 20)`,
	} {
		_, err := h.Query(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	tables, err := h.Introspect(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "orders", tables[0].Name, "creation order is preserved")
	assert.Equal(t, []store.TableColumn{
		{Name: "order_id", Type: "INTEGER", Nullable: false},
		{Name: "amount", Type: "DOUBLE", Nullable: true},
	}, tables[0].Columns)
	assert.Equal(t, "customers", tables[1].Name)

	rs, err := h.Query(ctx, `SELECT SUM(amount) AS total, COUNT(*) AS n FROM orders`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "total", rs.Columns[0].Name)
	assert.Equal(t, 30.5, rs.Rows[0][0])
	assert.Equal(t, int64(2), rs.Rows[0][1])

	_, err = h.Query(ctx, `SELECT nope FROM orders`)
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrBadHandle))
}

func TestHandleWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	h := NewHandle(db)

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	require.NoError(t, h.Ping(context.Background()))

	mock.ExpectQuery(`SELECT id, label FROM items`).WillReturnRows(
		sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("INTEGER", int64(0)),
			sqlmock.NewColumn("label").OfType("TEXT", ""),
		).AddRow(int64(7), "seven").AddRow(int64(8), nil),
	)
	rs, err := h.Query(context.Background(), `SELECT id, label FROM items`)
	require.NoError(t, err)
	assert.Equal(t, []store.Column{{Name: "id", Type: "INTEGER"}, {Name: "label", Type: "TEXT"}}, rs.Columns)
	assert.Equal(t, [][]any{{int64(7), "seven"}, {int64(8), nil}}, rs.Rows)

	mock.ExpectQuery(`SELECT name FROM sqlite_master`).WillReturnError(errors.New("disk I/O error"))
	_, err = h.Introspect(context.Background())
	require.EqualError(t, err, "disk I/O error")

	require.NoError(t, mock.ExpectationsWereMet())
}
