// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package schema keeps a per-subject snapshot of table structure and renders
// it as CREATE TABLE text for prompts.
//
// Snapshots are immutable and published with an atomic pointer swap, so
// readers never lock and never observe a half-built snapshot. Stale snapshots
// keep serving while a single background refresh per subject rebuilds them.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/store"
	"nlcube/cli/internal/subject"
)

// Connections is the part of the subject registry the cache needs.
type Connections interface {
	Acquire(ctx context.Context, name string) (*subject.Conn, error)
	Release(c *subject.Conn)
	List() []string
}

// Snapshot is the structure of one subject at CapturedAt.
type Snapshot struct {
	Subject    string
	Tables     []store.Table
	CapturedAt time.Time
}

// Empty reports whether the subject had no tables.
func (s *Snapshot) Empty() bool { return s == nil || len(s.Tables) == 0 }

// Table returns the named table, matching case-insensitively.
func (s *Snapshot) Table(name string) (store.Table, bool) {
	if s == nil {
		return store.Table{}, false
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return store.Table{}, false
}

type entry struct {
	snap atomic.Pointer[Snapshot]
}

// Cache holds the latest snapshot per subject.
type Cache struct {
	conns      Connections
	staleAfter time.Duration
	logger     *pterm.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty cache. logger and m may be nil.
func New(conns Connections, staleAfter time.Duration, logger *pterm.Logger, m *metrics.Metrics) *Cache {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cache{
		conns:      conns,
		staleAfter: staleAfter,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		entries:    make(map[string]*entry),
	}
}

func (c *Cache) entry(name string) *entry {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[name]; !ok {
		e = &entry{}
		c.entries[name] = e
	}
	return e
}

// Snapshot returns the current snapshot of name, or nil if none was built.
func (c *Cache) Snapshot(name string) *Snapshot {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.snap.Load()
}

// GetSchemaText renders the current snapshot of name. A missing snapshot is
// built synchronously; a stale one is served while a refresh runs in the
// background.
func (c *Cache) GetSchemaText(ctx context.Context, name string) (string, error) {
	snap := c.Snapshot(name)
	if snap == nil {
		var err error
		if snap, err = c.Refresh(ctx, name); err != nil {
			return "", err
		}
		return Render(snap), nil
	}
	if c.now().Sub(snap.CapturedAt) > c.staleAfter {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_, _ = c.Refresh(ctx, name)
		}()
	}
	return Render(snap), nil
}

// Refresh introspects name and publishes a new snapshot. Concurrent calls for
// the same subject share one introspection. On failure the prior snapshot is
// kept.
func (c *Cache) Refresh(ctx context.Context, name string) (*Snapshot, error) {
	v, err, _ := c.group.Do(name, func() (any, error) {
		return c.refresh(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) refresh(ctx context.Context, name string) (*Snapshot, error) {
	start := c.now()
	e := c.entry(name)
	tables, err := c.introspect(ctx, name)
	if err != nil {
		c.mu.Lock()
		if c.entries[name] == e && e.snap.Load() == nil {
			delete(c.entries, name)
		}
		c.mu.Unlock()
		c.metrics.SchemaRefresh(name, "error")
		c.logger.Warn("schema refresh failed", c.logger.Args(
			"subject", name, "error", logging.Mask(err.Error())))
		return nil, err
	}

	snap := &Snapshot{Subject: name, Tables: tables, CapturedAt: start}
	if !c.publish(name, e, snap) {
		c.logger.Debug("schema refresh discarded", c.logger.Args("subject", name))
		return snap, nil
	}
	c.metrics.SchemaRefresh(name, "ok")
	c.logger.Debug("schema refreshed", c.logger.Args("subject", name, "tables", len(tables)))
	return snap, nil
}

// publish stores snap in e unless the subject was forgotten since e was
// looked up. A subject deleted and recreated under the same name gets a new
// entry, so a refresh started against the old one never lands there.
func (c *Cache) publish(name string, e *entry, snap *Snapshot) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entries[name] != e {
		return false
	}
	e.snap.Store(snap)
	return true
}

func (c *Cache) introspect(ctx context.Context, name string) ([]store.Table, error) {
	conn, err := c.conns.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer c.conns.Release(conn)

	tables, err := conn.Handle().Introspect(ctx)
	if err != nil {
		return nil, nerrors.Wrap(nerrors.ConnectionError, fmt.Sprintf("introspect %q", name), err)
	}
	return tables, nil
}

// RefreshAll refreshes every registered subject, a few at a time.
func (c *Cache) RefreshAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range c.conns.List() {
		g.Go(func() error {
			_, err := c.Refresh(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// Forget drops the snapshot of a deleted subject.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	c.group.Forget(name)
}

// ListSubjects returns the registered subject names in sorted order.
func (c *Cache) ListSubjects() []string {
	names := c.conns.List()
	sort.Strings(names)
	return names
}

// Render formats a snapshot as one CREATE TABLE statement per table.
func Render(s *Snapshot) string {
	if s.Empty() {
		return "-- no tables"
	}
	blocks := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", quote(t.Name))
		for i, col := range t.Columns {
			b.WriteString("    " + quote(col.Name))
			if col.Type != "" {
				b.WriteString(" " + col.Type)
			}
			if !col.Nullable {
				b.WriteString(" NOT NULL")
			}
			if i < len(t.Columns)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(");")
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
