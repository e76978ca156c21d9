// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package engine runs validated statements against a subject's store and
// serializes the result to the columnar payload.
//
// A job moves Queued -> Acquiring -> Executing -> Serializing and ends in
// Completed or Failed. The store call runs on the worker pool under a context
// detached from the caller, so a caller that stops waiting (cancellation or
// the soft execution timeout) never interrupts it: the worker finishes,
// releases the connection and the result is dropped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"nlcube/cli/internal/columnar"
	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/store"
	"nlcube/cli/internal/subject"
	"nlcube/cli/internal/workers"
)

// State is a job's lifecycle stage.
type State string

const (
	Queued      State = "queued"
	Acquiring   State = "acquiring"
	Executing   State = "executing"
	Serializing State = "serializing"
	Completed   State = "completed"
	Failed      State = "failed"
)

func (s State) terminal() bool { return s == Completed || s == Failed }

// Connections is the part of the subject registry the coordinator needs.
type Connections interface {
	Acquire(ctx context.Context, name string) (*subject.Conn, error)
	Release(c *subject.Conn)
	MarkBroken(c *subject.Conn)
}

// Job is one statement execution.
type Job struct {
	ID          string
	Subject     string
	SQL         string
	SubmittedAt time.Time

	mu    sync.Mutex
	state State
	kind  nerrors.Kind
}

// State returns the current stage and, for Failed, the error kind.
func (j *Job) State() (State, nerrors.Kind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.kind
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	State       State     `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// QueryResult is a completed execution.
type QueryResult struct {
	JobID     string
	Columns   []store.Column
	RowCount  int
	ElapsedMs int64
	Payload   []byte
}

// Coordinator executes statements. It is safe for concurrent use.
type Coordinator struct {
	conns   Connections
	workers *workers.Pool
	timeout time.Duration
	logger  *pterm.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	jobs map[string]*Job
}

// New returns a coordinator. timeout is the soft execution timeout; zero
// means 30s.
func New(conns Connections, pool *workers.Pool, timeout time.Duration, logger *pterm.Logger, m *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		conns:   conns,
		workers: pool,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		jobs:    make(map[string]*Job),
	}
}

type outcome struct {
	res *QueryResult
	err error
}

// Execute runs sql against subject and returns the serialized result.
func (c *Coordinator) Execute(ctx context.Context, subjectName, sql string) (*QueryResult, error) {
	job := &Job{ID: uuid.NewString(), Subject: subjectName, SQL: sql, SubmittedAt: time.Now()}
	c.track(job)
	c.transition(job, Queued)

	res, err := c.run(ctx, job)
	if err != nil {
		c.fail(job, err)
		return nil, err
	}
	c.transition(job, Completed)
	c.untrack(job, "completed")
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, job *Job) (*QueryResult, error) {
	c.transition(job, Acquiring)
	conn, err := c.conns.Acquire(ctx, job.Subject)
	if err != nil {
		return nil, err
	}
	if conn.Subject() != job.Subject {
		c.conns.Release(conn)
		return nil, nerrors.New(nerrors.Internal,
			fmt.Sprintf("connection for %q handed to a job on %q", conn.Subject(), job.Subject))
	}

	wait, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	detached := context.WithoutCancel(ctx)
	if err := c.workers.Submit(wait, func() { done <- c.work(detached, job, conn) }); err != nil {
		c.conns.Release(conn)
		return nil, c.abandoned(ctx, job, err)
	}

	select {
	case o := <-done:
		return o.res, o.err
	case <-wait.Done():
		c.logger.Debug("job abandoned, result will be discarded", c.logger.Args("job", job.ID))
		return nil, c.abandoned(ctx, job, wait.Err())
	}
}

// work runs on a worker. It owns conn and always releases it.
func (c *Coordinator) work(ctx context.Context, job *Job, conn *subject.Conn) outcome {
	defer c.conns.Release(conn)

	c.transition(job, Executing)
	start := time.Now()
	rs, err := conn.Handle().Query(ctx, job.SQL)
	if err != nil {
		if errors.Is(err, store.ErrBadHandle) {
			c.conns.MarkBroken(conn)
		}
		return outcome{err: nerrors.Wrap(nerrors.ExecutionError, "store rejected the statement", err).WithSQL(job.SQL)}
	}
	elapsed := time.Since(start)

	c.transition(job, Serializing)
	payload, err := columnar.Encode(rs)
	if err != nil {
		c.logger.Error("serialize result", c.logger.Args("job", job.ID, "error", err.Error()))
		if _, ok := nerrors.As(err); !ok {
			err = nerrors.Wrap(nerrors.SerializationError, "encode result", err)
		}
		return outcome{err: err}
	}

	return outcome{res: &QueryResult{
		JobID:     job.ID,
		Columns:   rs.Columns,
		RowCount:  len(rs.Rows),
		ElapsedMs: elapsed.Milliseconds(),
		Payload:   payload,
	}}
}

func (c *Coordinator) abandoned(ctx context.Context, job *Job, err error) error {
	switch {
	case ctx.Err() != nil:
		return nerrors.Wrap(nerrors.Canceled, "query abandoned by caller", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return nerrors.New(nerrors.ExecutionTimeout,
			fmt.Sprintf("query did not finish within %s", c.timeout)).WithSQL(job.SQL)
	case errors.Is(err, workers.ErrClosed):
		return nerrors.Wrap(nerrors.Internal, "query rejected during shutdown", err)
	}
	return nerrors.Wrap(nerrors.Internal, "submit query", err)
}

// transition moves job to s. A job that already ended stays where it is,
// so a worker finishing after its caller gave up changes nothing.
func (c *Coordinator) transition(job *Job, s State) {
	job.mu.Lock()
	if job.state.terminal() {
		job.mu.Unlock()
		return
	}
	job.state = s
	job.mu.Unlock()
	c.metrics.JobTransition(string(s), "")
	c.logger.Debug("job transition", c.logger.Args("job", job.ID, "subject", job.Subject, "state", string(s)))
}

func (c *Coordinator) fail(job *Job, err error) {
	kind := nerrors.KindOf(err)
	job.mu.Lock()
	if job.state.terminal() {
		job.mu.Unlock()
		return
	}
	job.state, job.kind = Failed, kind
	job.mu.Unlock()
	c.metrics.JobTransition(string(Failed), string(kind))
	c.logger.Debug("job failed", c.logger.Args("job", job.ID, "subject", job.Subject, "kind", string(kind)))
	c.untrack(job, "failed")
}

func (c *Coordinator) track(job *Job) {
	c.mu.Lock()
	c.jobs[job.ID] = job
	c.mu.Unlock()
}

func (c *Coordinator) untrack(job *Job, outcome string) {
	c.mu.Lock()
	delete(c.jobs, job.ID)
	c.mu.Unlock()
	c.metrics.JobFinished(outcome, time.Since(job.SubmittedAt))
}

// Jobs lists jobs whose callers are still waiting, oldest first.
func (c *Coordinator) Jobs() []JobInfo {
	c.mu.Lock()
	out := make([]JobInfo, 0, len(c.jobs))
	for _, j := range c.jobs {
		s, _ := j.State()
		out = append(out, JobInfo{ID: j.ID, Subject: j.Subject, State: s, SubmittedAt: j.SubmittedAt})
	}
	c.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].SubmittedAt.Before(out[b].SubmittedAt) })
	return out
}
