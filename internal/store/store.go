// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package store defines the capability nlcube consumes from the analytical
// store: locating and creating a subject's isolated storage, opening handles
// to it, running SQL and introspecting tables. Concrete drivers live in the
// sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
)

// ErrBadHandle is returned (possibly wrapped) when a handle is no longer usable.
var ErrBadHandle = errors.New("store handle is no longer usable")

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	// Type is the store's declared type name; empty for expressions without one.
	Type string `json:"type"`
}

// Rowset is a fully materialized query result.
type Rowset struct {
	Columns []Column
	Rows    [][]any
}

// TableColumn is one column of an introspected table.
type TableColumn struct {
	Name     string
	Type     string
	Nullable bool
}

// Table is an introspected table with columns in native order.
type Table struct {
	Name    string
	Columns []TableColumn
}

// Handle is an open connection to one subject's storage.
// A Handle is used by one goroutine at a time.
type Handle interface {
	// Ping runs the cheap validation probe.
	Ping(ctx context.Context) error
	// Query executes sql and materializes every row.
	Query(ctx context.Context, sql string) (*Rowset, error)
	// Introspect lists tables and their columns in the store's native order.
	Introspect(ctx context.Context) ([]Table, error)
	Close() error
}

// Driver opens handles and manages per-subject storage.
type Driver interface {
	Name() string
	// Locate returns the storage path for subject.
	Locate(subject string) string
	// Create makes sure the subject's storage exists.
	Create(ctx context.Context, subject string) error
	// Destroy deletes the subject's storage.
	Destroy(ctx context.Context, subject string) error
	// Discover lists subjects whose storage already exists.
	Discover(ctx context.Context) ([]string, error)
	// Open returns a new handle for the storage at path.
	Open(ctx context.Context, path string) (Handle, error)
}
