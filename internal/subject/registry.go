// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package subject tracks known subjects and owns each subject's bounded
// connection pool.
//
// Every pool is a small state machine over idle, in-use, broken and opening
// counts guarded by one mutex. Callers that find no idle connection and no
// spare capacity queue up and are served strictly in arrival order.
// Connections are probed when they come back; one that fails the probe is
// closed and its slot freed instead of being reused.
package subject

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/pterm/pterm"

	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/store"
)

const maxNameLen = 64

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateName reports InvalidName unless name uses letters, digits and
// underscores only.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || len(name) > maxNameLen {
		return nerrors.New(nerrors.InvalidName,
			fmt.Sprintf("subject name %q must be 1-%d letters, digits or underscores", name, maxNameLen))
	}
	return nil
}

// Subject is one isolated data domain.
type Subject struct {
	Name        string `json:"name"`
	StoragePath string `json:"storage_path"`
	Attached    bool   `json:"attached"`
}

// Options bound the per-subject pools.
type Options struct {
	PoolSize       int
	AcquireTimeout time.Duration
	OpenRetries    int
	OpenBackoff    time.Duration
	ProbeTimeout   time.Duration
	RemoveTimeout  time.Duration
}

func (o *Options) defaults() {
	if o.PoolSize < 1 {
		o.PoolSize = 5
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.OpenRetries < 1 {
		o.OpenRetries = 3
	}
	if o.OpenBackoff <= 0 {
		o.OpenBackoff = 50 * time.Millisecond
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = time.Second
	}
	if o.RemoveTimeout <= 0 {
		o.RemoveTimeout = 10 * time.Second
	}
}

// Registry maps subject names to pools.
type Registry struct {
	driver  store.Driver
	opts    Options
	logger  *pterm.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	pools   map[string]*pool
	pending map[string]struct{}
}

// New returns an empty registry. logger and m may be nil.
func New(driver store.Driver, opts Options, logger *pterm.Logger, m *metrics.Metrics) *Registry {
	opts.defaults()
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		driver:  driver,
		opts:    opts,
		logger:  logger,
		metrics: m,
		pools:   make(map[string]*pool),
		pending: make(map[string]struct{}),
	}
}

// Register creates storage for a new subject and starts tracking it.
func (r *Registry) Register(ctx context.Context, name string) (Subject, error) {
	return r.add(ctx, name, true)
}

// Adopt tracks a subject whose storage already exists. Adopting a known
// subject returns it unchanged.
func (r *Registry) Adopt(ctx context.Context, name string) (Subject, error) {
	s, err := r.add(ctx, name, false)
	if nerrors.Is(err, nerrors.AlreadyExists) {
		return r.Get(name)
	}
	return s, err
}

func (r *Registry) add(ctx context.Context, name string, create bool) (Subject, error) {
	if err := ValidateName(name); err != nil {
		return Subject{}, err
	}

	r.mu.Lock()
	_, known := r.pools[name]
	_, busy := r.pending[name]
	if known || busy {
		r.mu.Unlock()
		return Subject{}, nerrors.New(nerrors.AlreadyExists, fmt.Sprintf("subject %q already exists", name))
	}
	r.pending[name] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, name)
		r.mu.Unlock()
	}()

	if create {
		if err := r.driver.Create(ctx, name); err != nil {
			return Subject{}, nerrors.Wrap(nerrors.ConnectionError, fmt.Sprintf("create storage for %q", name), err)
		}
	}

	s := Subject{Name: name, StoragePath: r.driver.Locate(name), Attached: true}
	p := newPool(s, r.opts.PoolSize, r.metrics)

	r.mu.Lock()
	r.pools[name] = p
	r.mu.Unlock()

	p.mu.Lock()
	p.reportLocked()
	p.mu.Unlock()

	r.logger.Debug("subject registered", r.logger.Args("subject", name, "path", s.StoragePath, "created", create))
	return s, nil
}

func (r *Registry) lookup(name string) (*pool, error) {
	r.mu.RLock()
	p, ok := r.pools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nerrors.New(nerrors.UnknownSubject, fmt.Sprintf("subject %q is not registered", name))
	}
	return p, nil
}

// Get returns the subject called name.
func (r *Registry) Get(name string) (Subject, error) {
	p, err := r.lookup(name)
	if err != nil {
		return Subject{}, err
	}
	return p.subject, nil
}

// List returns the registered subject names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Stats returns a consistent snapshot of a subject's pool.
func (r *Registry) Stats(name string) (Stats, error) {
	p, err := r.lookup(name)
	if err != nil {
		return Stats{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked(), nil
}

// Acquire returns a connection to the named subject, waiting in FIFO order
// while the pool is at capacity. It fails with PoolExhausted once the acquire
// timeout passes and with ConnectionError when a new connection cannot be
// opened after the configured retries.
func (r *Registry) Acquire(ctx context.Context, name string) (*Conn, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { r.metrics.AcquireWaited(name, time.Since(start)) }()

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, nerrors.New(nerrors.UnknownSubject, fmt.Sprintf("subject %q is not registered", name))
	case p.draining:
		p.mu.Unlock()
		return nil, nerrors.New(nerrors.Busy, fmt.Sprintf("subject %q is being removed", name))
	}

	var g grant
	switch {
	case p.waiters.Len() == 0 && len(p.idle) > 0:
		c := p.takeIdleLocked()
		p.reportLocked()
		p.mu.Unlock()
		return c, nil
	case p.waiters.Len() == 0 && p.capacityLocked() > 0:
		p.opening++
		p.reportLocked()
		p.mu.Unlock()
		g.create = true
	default:
		w := &waiter{ch: make(chan grant, 1)}
		w.elem = p.waiters.PushBack(w)
		p.reportLocked()
		p.mu.Unlock()

		if g, err = r.wait(ctx, p, w); err != nil {
			return nil, err
		}
	}

	if g.err != nil {
		return nil, g.err
	}
	if g.conn != nil {
		return g.conn, nil
	}
	return r.open(ctx, p)
}

// wait blocks until w is granted or the acquire deadline passes. A grant
// that races with the deadline is handed back so no slot leaks.
func (r *Registry) wait(ctx context.Context, p *pool, w *waiter) (grant, error) {
	timer := time.NewTimer(r.opts.AcquireTimeout)
	defer timer.Stop()

	var cause error
	select {
	case g := <-w.ch:
		return g, nil
	case <-timer.C:
		cause = nerrors.New(nerrors.PoolExhausted,
			fmt.Sprintf("no connection to %q within %s", p.subject.Name, r.opts.AcquireTimeout))
	case <-ctx.Done():
		cause = nerrors.Wrap(nerrors.Canceled, "acquire abandoned", ctx.Err())
	}

	p.mu.Lock()
	if p.dequeueLocked(w) {
		p.reportLocked()
		p.mu.Unlock()
		return grant{}, cause
	}
	p.mu.Unlock()

	g := <-w.ch
	switch {
	case g.conn != nil:
		r.Release(g.conn)
	case g.create:
		p.cancelReservation()
	}
	return grant{}, cause
}

// open fills a reserved slot, retrying with exponential backoff.
func (r *Registry) open(ctx context.Context, p *pool) (*Conn, error) {
	var lastErr error
	backoff := r.opts.OpenBackoff
retry:
	for attempt := 1; attempt <= r.opts.OpenRetries; attempt++ {
		h, err := r.driver.Open(ctx, p.subject.StoragePath)
		if err == nil {
			return p.openFinished(h), nil
		}
		lastErr = err
		r.logger.Warn("open connection failed", r.logger.Args(
			"subject", p.subject.Name, "attempt", attempt, "error", logging.Mask(err.Error())))
		if attempt == r.opts.OpenRetries {
			break retry
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		}
	}
	p.openFinished(nil)
	return nil, nerrors.Wrap(nerrors.ConnectionError,
		fmt.Sprintf("open %q after %d attempts", p.subject.Name, r.opts.OpenRetries), lastErr)
}

// MarkBroken flags c so Release discards it without probing.
func (r *Registry) MarkBroken(c *Conn) {
	if c != nil {
		c.broken.Store(true)
	}
}

// Release returns c to its pool. Healthy connections go to the oldest waiter
// or back to idle; a connection that fails the probe, or was marked broken,
// is closed and its slot freed. Releasing twice is a no-op.
func (r *Registry) Release(c *Conn) {
	if c == nil {
		return
	}
	p := c.pool

	p.mu.Lock()
	if c.state != InUse || c.returning {
		p.mu.Unlock()
		return
	}
	c.returning = true
	p.mu.Unlock()

	healthy := !c.broken.Load()
	if healthy {
		err := probe(c.handle, func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), r.opts.ProbeTimeout)
		})
		if err != nil {
			healthy = false
			r.logger.Warn("connection failed validation, replacing", r.logger.Args(
				"subject", c.subject, "conn", c.id, "error", logging.Mask(err.Error())))
		}
	}

	p.mu.Lock()
	c.returning = false
	p.inUse--
	if healthy && !p.closed {
		c.state = Idle
		p.idle = append(p.idle, c)
		p.dispatchLocked()
		p.signalDrainLocked()
		p.reportLocked()
		p.mu.Unlock()
		return
	}
	c.state = Broken
	p.broken++
	p.reportLocked()
	p.mu.Unlock()

	_ = c.handle.Close()

	p.mu.Lock()
	p.broken--
	p.dispatchLocked()
	p.signalDrainLocked()
	p.reportLocked()
	p.mu.Unlock()
}

// Remove drains and closes the subject's pool, then deregisters it. It fails
// with Busy when connections are still checked out after the remove timeout;
// the pool then resumes serving.
func (r *Registry) Remove(ctx context.Context, name string) error {
	p, err := r.lookup(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nerrors.New(nerrors.Busy, fmt.Sprintf("subject %q is already being removed", name))
	}
	p.draining = true
	if p.inUse+p.opening > 0 {
		p.drained = make(chan struct{})
	}
	drained := p.drained
	p.mu.Unlock()

	if drained != nil {
		timer := time.NewTimer(r.opts.RemoveTimeout)
		defer timer.Stop()
		select {
		case <-drained:
		case <-timer.C:
			return r.abortRemove(p, nil)
		case <-ctx.Done():
			return r.abortRemove(p, ctx.Err())
		}
	}

	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
		w := e.Value.(*waiter)
		p.dequeueLocked(w)
		w.ch <- grant{err: nerrors.New(nerrors.UnknownSubject, fmt.Sprintf("subject %q was removed", name))}
	}
	p.subject.Attached = false
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := c.handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	delete(r.pools, name)
	r.mu.Unlock()
	r.metrics.ForgetPool(name)

	r.logger.Debug("subject removed", r.logger.Args("subject", name, "closed", len(idle)))
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("closing idle connections", r.logger.Args("subject", name, "error", err.Error()))
	}
	return nil
}

func (r *Registry) abortRemove(p *pool, cause error) error {
	p.mu.Lock()
	p.draining = false
	p.drained = nil
	in := p.inUse
	p.dispatchLocked()
	p.mu.Unlock()

	msg := fmt.Sprintf("subject %q still has %d connection(s) in use", p.subject.Name, in)
	if cause != nil {
		return nerrors.Wrap(nerrors.Busy, msg, cause)
	}
	return nerrors.New(nerrors.Busy, msg)
}

// Close removes every subject. Storage is left untouched.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, name := range r.List() {
		if err := r.Remove(ctx, name); err != nil && !nerrors.Is(err, nerrors.UnknownSubject) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
