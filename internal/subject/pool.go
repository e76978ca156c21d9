// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package subject

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/store"
)

// ConnState is the lifecycle state of a pooled connection.
type ConnState int

const (
	Idle ConnState = iota
	InUse
	Broken
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InUse:
		return "in-use"
	case Broken:
		return "broken"
	}
	return "unknown"
}

// Conn is a pooled connection owned by exactly one caller between Acquire
// and Release.
type Conn struct {
	id      uint64
	subject string
	handle  store.Handle
	pool    *pool

	// guarded by pool.mu
	state     ConnState
	returning bool

	broken atomic.Bool
}

func (c *Conn) ID() uint64           { return c.id }
func (c *Conn) Subject() string      { return c.subject }
func (c *Conn) Handle() store.Handle { return c.handle }

// State reports the connection's current state.
func (c *Conn) State() ConnState {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.state
}

// Stats is a consistent view of one pool.
// InUse + Idle + Broken + Opening never exceeds Size; Free counts idle
// connections plus capacity not yet opened.
type Stats struct {
	Size    int `json:"size"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Broken  int `json:"broken"`
	Opening int `json:"opening"`
	Waiting int `json:"waiting"`
	Free    int `json:"free"`
}

// grant is handed to a waiter: an idle connection, permission to open a new
// one (capacity already reserved in opening), or a terminal error.
type grant struct {
	conn   *Conn
	create bool
	err    error
}

type waiter struct {
	ch   chan grant
	elem *list.Element // nil once dequeued
}

type pool struct {
	subject Subject
	size    int
	metrics *metrics.Metrics

	mu       sync.Mutex
	idle     []*Conn
	inUse    int
	broken   int
	opening  int
	waiters  *list.List
	draining bool
	drained  chan struct{}
	closed   bool
	nextID   uint64
}

func newPool(s Subject, size int, m *metrics.Metrics) *pool {
	return &pool{subject: s, size: size, metrics: m, waiters: list.New()}
}

// capacityLocked is the number of connections that may still be opened.
func (p *pool) capacityLocked() int {
	return p.size - p.inUse - len(p.idle) - p.broken - p.opening
}

func (p *pool) statsLocked() Stats {
	return Stats{
		Size:    p.size,
		Idle:    len(p.idle),
		InUse:   p.inUse,
		Broken:  p.broken,
		Opening: p.opening,
		Waiting: p.waiters.Len(),
		Free:    p.size - p.inUse - p.broken - p.opening,
	}
}

func (p *pool) reportLocked() {
	p.metrics.PoolState(p.subject.Name, len(p.idle), p.inUse, p.broken, p.waiters.Len())
}

// takeIdleLocked pops the most recently returned connection.
func (p *pool) takeIdleLocked() *Conn {
	c := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	c.state = InUse
	p.inUse++
	return c
}

// dispatchLocked serves queued waiters in FIFO order while idle connections
// or capacity are available.
func (p *pool) dispatchLocked() {
	for p.waiters.Len() > 0 && !p.draining && !p.closed {
		w := p.waiters.Front().Value.(*waiter)
		var g grant
		switch {
		case len(p.idle) > 0:
			g.conn = p.takeIdleLocked()
		case p.capacityLocked() > 0:
			p.opening++
			g.create = true
		default:
			return
		}
		p.waiters.Remove(w.elem)
		w.elem = nil
		w.ch <- g
	}
}

// signalDrainLocked wakes a pending Remove once nothing is checked out.
func (p *pool) signalDrainLocked() {
	if p.drained != nil && p.inUse == 0 && p.opening == 0 {
		close(p.drained)
		p.drained = nil
	}
}

// dequeueLocked removes w if it is still queued and reports whether it was.
func (p *pool) dequeueLocked(w *waiter) bool {
	if w.elem == nil {
		return false
	}
	p.waiters.Remove(w.elem)
	w.elem = nil
	return true
}

// openFinished records the outcome of an open that held a reserved slot.
func (p *pool) openFinished(h store.Handle) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opening--
	var c *Conn
	if h != nil {
		p.nextID++
		c = &Conn{id: p.nextID, subject: p.subject.Name, handle: h, pool: p, state: InUse}
		p.inUse++
	} else {
		p.dispatchLocked()
	}
	p.signalDrainLocked()
	p.reportLocked()
	return c
}

// cancelReservation returns an unused create grant.
func (p *pool) cancelReservation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opening--
	p.dispatchLocked()
	p.signalDrainLocked()
	p.reportLocked()
}

// probe runs the validation query with its own deadline.
func probe(h store.Handle, ctxTimeout func() (context.Context, context.CancelFunc)) error {
	ctx, cancel := ctxTimeout()
	defer cancel()
	return h.Ping(ctx)
}
