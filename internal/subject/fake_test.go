// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package subject

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"nlcube/cli/internal/store"
)

type fakeHandle struct {
	driver   *fakeDriver
	pingFail atomic.Bool
	closed   atomic.Bool
}

func (h *fakeHandle) Ping(context.Context) error {
	if h.pingFail.Load() {
		return errors.New("server closed the connection unexpectedly")
	}
	return nil
}

func (h *fakeHandle) Query(context.Context, string) (*store.Rowset, error) {
	return &store.Rowset{Columns: []store.Column{{Name: "1"}}, Rows: [][]any{{int64(1)}}}, nil
}

func (h *fakeHandle) Introspect(context.Context) ([]store.Table, error) { return nil, nil }

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	h.driver.closes.Add(1)
	return nil
}

type fakeDriver struct {
	mu       sync.Mutex
	created  map[string]bool
	openErr  error
	opens    atomic.Int32
	closes   atomic.Int32
	handles  []*fakeHandle
	failOpen atomic.Int32 // remaining opens that fail
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{created: map[string]bool{}}
}

func (d *fakeDriver) Name() string                 { return "fake" }
func (d *fakeDriver) Locate(subject string) string { return "/fake/" + subject }

func (d *fakeDriver) Create(_ context.Context, subject string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created[subject] = true
	return nil
}

func (d *fakeDriver) Destroy(_ context.Context, subject string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.created, subject)
	return nil
}

func (d *fakeDriver) Discover(context.Context) ([]string, error) { return nil, nil }

func (d *fakeDriver) Open(context.Context, string) (store.Handle, error) {
	d.opens.Add(1)
	if d.failOpen.Load() > 0 {
		d.failOpen.Add(-1)
		return nil, errors.New("connection refused")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	h := &fakeHandle{driver: d}
	d.handles = append(d.handles, h)
	return h, nil
}
