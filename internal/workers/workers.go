// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package workers runs blocking work (store queries, translator calls) on a
// fixed number of goroutines. The task channel is unbuffered: Submit returns
// only once a worker has taken the task, so an accepted task is a running task.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool is closed")

// Pool is a fixed set of worker goroutines.
type Pool struct {
	size   int
	tasks  chan func()
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	busy   atomic.Int32
}

// New starts size workers.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:   size,
		tasks:  make(chan func()),
		closed: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.tasks:
			p.busy.Add(1)
			fn()
			p.busy.Add(-1)
		case <-p.closed:
			return
		}
	}
}

// Submit hands fn to an idle worker, waiting until one is free. It returns
// ctx.Err() if ctx ends first; fn has then not run and never will.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	}
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Busy is the number of workers currently running a task.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Close stops accepting tasks and waits for running ones to finish or for
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.once.Do(func() { close(p.closed) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
