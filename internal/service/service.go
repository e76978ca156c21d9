// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package service exposes nlcube's operations to the transports (CLI and
// HTTP): asking questions, running raw SQL, and managing subjects. It owns
// the caller retry policy. Store failures are retried with backoff and a
// failed translation is retried once.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"nlcube/cli/internal/engine"
	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/pipeline"
	"nlcube/cli/internal/schema"
	"nlcube/cli/internal/sqlguard"
	"nlcube/cli/internal/store"
	"nlcube/cli/internal/subject"
)

// Answer is the outcome of one question or raw statement.
type Answer struct {
	SQL       string         `json:"sql"`
	RawOutput string         `json:"raw_output,omitempty"`
	Payload   []byte         `json:"-"`
	RowCount  int            `json:"row_count"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Columns   []store.Column `json:"columns"`
	// Unreliable is set when the subject had no tables at translation time.
	Unreliable bool `json:"unreliable,omitempty"`
}

// Deps are the components a Service drives.
type Deps struct {
	Driver   store.Driver
	Registry *subject.Registry
	Schemas  *schema.Cache
	Pipeline *pipeline.Pipeline
	Engine   *engine.Coordinator
	// RawValidator checks statements passed to ExecuteRawQuery. Nil means
	// read-only.
	RawValidator *sqlguard.Validator
	Retry        RetryPolicy
	Logger       *pterm.Logger
}

// Service is safe for concurrent use.
type Service struct {
	driver   store.Driver
	registry *subject.Registry
	schemas  *schema.Cache
	pipeline *pipeline.Pipeline
	engine   *engine.Coordinator
	raw      *sqlguard.Validator
	retry    RetryPolicy
	logger   *pterm.Logger
	started  time.Time
}

// New builds a Service.
func New(d Deps) *Service {
	d.Retry.defaults()
	if d.RawValidator == nil {
		d.RawValidator = sqlguard.New()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Service{
		driver:   d.Driver,
		registry: d.Registry,
		schemas:  d.Schemas,
		pipeline: d.Pipeline,
		engine:   d.Engine,
		raw:      d.RawValidator,
		retry:    d.Retry,
		logger:   d.Logger,
		started:  time.Now(),
	}
}

type subjectKey struct{}

// WithSubject returns a context carrying the selected subject.
func WithSubject(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, subjectKey{}, name)
}

// SubjectFrom returns the subject selected in ctx, if any.
func SubjectFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(subjectKey{}).(string)
	return name, ok && name != ""
}

// SelectCurrentSubject checks that name is registered and returns a context
// selecting it. Operations called with an empty subject use the selection.
func (s *Service) SelectCurrentSubject(ctx context.Context, name string) (context.Context, error) {
	if _, err := s.registry.Get(name); err != nil {
		return ctx, err
	}
	return WithSubject(ctx, name), nil
}

func (s *Service) resolve(ctx context.Context, name string) (string, error) {
	if name = strings.TrimSpace(name); name != "" {
		return name, nil
	}
	if name, ok := SubjectFrom(ctx); ok {
		return name, nil
	}
	return "", nerrors.New(nerrors.UnknownSubject, "no subject given and none selected")
}

// ExecuteNaturalLanguageQuery translates question against the subject's
// schema and runs the validated statement.
func (s *Service) ExecuteNaturalLanguageQuery(ctx context.Context, name, question string) (*Answer, error) {
	name, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	gen, err := s.pipeline.Generate(ctx, name, question)
	if nerrors.Is(err, nerrors.TranslationUnavailable) {
		s.logger.Info("translation failed, retrying once", s.logger.Args("subject", name, "error", logging.Mask(err.Error())))
		gen, err = s.pipeline.Generate(ctx, name, question)
	}
	if err != nil {
		return nil, err
	}

	res, err := s.execute(ctx, name, gen.SQL)
	if err != nil {
		if e, ok := nerrors.As(err); ok && e.Raw == "" {
			e.WithRaw(gen.RawOutput)
		}
		return nil, err
	}
	a := answer(gen.SQL, res)
	a.RawOutput = gen.RawOutput
	a.Unreliable = gen.SchemaEmpty
	return a, nil
}

// ExecuteRawQuery runs sql without translation. It is still validated, with
// writes permitted only when the raw validator allows them.
func (s *Service) ExecuteRawQuery(ctx context.Context, name, sql string) (*Answer, error) {
	name, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, nerrors.New(nerrors.InvalidQuestion, "statement must not be empty")
	}
	if _, err := s.registry.Get(name); err != nil {
		return nil, err
	}
	if err := s.raw.Validate(sql, name, s.registry.List()); err != nil {
		return nil, err
	}

	res, err := s.execute(ctx, name, sql)
	if err != nil {
		return nil, err
	}
	if s.raw.AllowWrites {
		// The statement may have changed the schema.
		if _, err := s.schemas.Refresh(ctx, name); err != nil {
			s.logger.Warn("schema refresh after raw statement failed", s.logger.Args("subject", name, "error", err.Error()))
		}
	}
	return answer(sql, res), nil
}

func (s *Service) execute(ctx context.Context, name, sql string) (*engine.QueryResult, error) {
	return withBackoff(ctx, s.retry, storeRetryable, func(attempt int) (*engine.QueryResult, error) {
		if attempt > 1 {
			s.logger.Debug("retrying execution", s.logger.Args("subject", name, "attempt", attempt))
		}
		return s.engine.Execute(ctx, name, sql)
	})
}

func answer(sql string, res *engine.QueryResult) *Answer {
	return &Answer{
		SQL:       sql,
		Payload:   res.Payload,
		RowCount:  res.RowCount,
		ElapsedMs: res.ElapsedMs,
		Columns:   res.Columns,
	}
}

// GetSchema renders the subject's schema.
func (s *Service) GetSchema(ctx context.Context, name string) (string, error) {
	name, err := s.resolve(ctx, name)
	if err != nil {
		return "", err
	}
	return s.schemas.GetSchemaText(ctx, name)
}

// ListSubjects returns registered subject names, sorted.
func (s *Service) ListSubjects() []string {
	return s.registry.List()
}

// CreateSubject registers a new subject and creates its storage.
func (s *Service) CreateSubject(ctx context.Context, name string) (subject.Subject, error) {
	sub, err := s.registry.Register(ctx, name)
	if err != nil {
		return sub, err
	}
	s.logger.Info("subject created", s.logger.Args("subject", sub.Name, "path", sub.StoragePath))
	return sub, nil
}

// DeleteSubject drains the subject's pool, deregisters it and destroys its
// storage.
func (s *Service) DeleteSubject(ctx context.Context, name string) error {
	if err := s.registry.Remove(ctx, name); err != nil {
		return err
	}
	s.schemas.Forget(name)
	if err := s.driver.Destroy(ctx, name); err != nil {
		return nerrors.Wrap(nerrors.ConnectionError, fmt.Sprintf("destroy storage of %q", name), err)
	}
	s.logger.Info("subject deleted", s.logger.Args("subject", name))
	return nil
}

// Discover adopts every subject whose storage already exists and builds
// their schema snapshots.
func (s *Service) Discover(ctx context.Context) error {
	names, err := s.driver.Discover(ctx)
	if err != nil {
		return nerrors.Wrap(nerrors.ConnectionError, "discover subjects", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range names {
		g.Go(func() error {
			if _, err := s.registry.Adopt(gctx, name); err != nil {
				s.logger.Warn("skipping subject", s.logger.Args("subject", name, "error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.schemas.RefreshAll(ctx); err != nil {
		s.logger.Warn("initial schema refresh incomplete", s.logger.Args("error", err.Error()))
	}
	s.logger.Info("subjects discovered", s.logger.Args("count", len(s.registry.List())))
	return nil
}

const (
	defaultPreviewRows = 10
	maxPreviewRows     = 1000
)

// Preview returns the first rows of a table. The table must exist in the
// subject's snapshot.
func (s *Service) Preview(ctx context.Context, name, table string, limit int) (*Answer, error) {
	name, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.schemas.GetSchemaText(ctx, name); err != nil {
		return nil, err
	}
	t, ok := s.schemas.Snapshot(name).Table(table)
	if !ok {
		return nil, nerrors.New(nerrors.InvalidName, fmt.Sprintf("subject %q has no table %q", name, table))
	}
	switch {
	case limit <= 0:
		limit = defaultPreviewRows
	case limit > maxPreviewRows:
		limit = maxPreviewRows
	}

	sql := fmt.Sprintf(`SELECT * FROM "%s" LIMIT %d`, strings.ReplaceAll(t.Name, `"`, `""`), limit)
	res, err := s.execute(ctx, name, sql)
	if err != nil {
		return nil, err
	}
	return answer(sql, res), nil
}

// SubjectStatus describes one subject.
type SubjectStatus struct {
	Name        string        `json:"name"`
	StoragePath string        `json:"storage_path"`
	Pool        subject.Stats `json:"pool"`
	Tables      int           `json:"tables"`
	// SnapshotAge is zero when no snapshot was built yet.
	SnapshotAge time.Duration `json:"snapshot_age"`
}

// Status is a point-in-time view of the service.
type Status struct {
	Uptime   time.Duration    `json:"uptime"`
	Driver   string           `json:"driver"`
	Backend  string           `json:"backend"`
	Subjects []SubjectStatus  `json:"subjects"`
	Jobs     []engine.JobInfo `json:"jobs"`
}

// Status reports pools, snapshots and running jobs.
func (s *Service) Status() Status {
	st := Status{
		Uptime:   time.Since(s.started).Round(time.Second),
		Driver:   s.driver.Name(),
		Backend:  s.pipeline.Backend(),
		Subjects: []SubjectStatus{},
		Jobs:     s.engine.Jobs(),
	}
	for _, name := range s.registry.List() {
		sub, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		pool, err := s.registry.Stats(name)
		if err != nil {
			continue
		}
		ss := SubjectStatus{Name: name, StoragePath: sub.StoragePath, Pool: pool}
		if snap := s.schemas.Snapshot(name); snap != nil {
			ss.Tables = len(snap.Tables)
			ss.SnapshotAge = time.Since(snap.CapturedAt).Round(time.Millisecond)
		}
		st.Subjects = append(st.Subjects, ss)
	}
	return st
}

// Close drains every subject pool.
func (s *Service) Close(ctx context.Context) error {
	return s.registry.Close(ctx)
}
