// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package pipeline turns a question about one subject into a validated SQL
// statement: schema text from the cache, a translator call under a hard
// timeout, statement extraction and validation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/schema"
	"nlcube/cli/internal/sqlguard"
	"nlcube/cli/internal/translate"
	"nlcube/cli/internal/workers"
)

// Schemas is the part of the schema cache the pipeline reads.
type Schemas interface {
	GetSchemaText(ctx context.Context, subject string) (string, error)
	Snapshot(subject string) *schema.Snapshot
	ListSubjects() []string
}

// invalidator is implemented by caching translators.
type invalidator interface {
	Invalidate(ctx context.Context, req translate.Request)
}

// Result is a validated statement.
type Result struct {
	SQL       string
	RawOutput string
	// SchemaEmpty means the subject had no tables, so the statement was
	// produced without schema context and should be treated as unreliable.
	SchemaEmpty bool
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Schemas    Schemas
	Translator translate.Translator
	Validator  *sqlguard.Validator
	Workers    *workers.Pool
	// Timeout bounds the translator call. Zero means one minute.
	Timeout time.Duration
	Logger  *pterm.Logger
	Metrics *metrics.Metrics
}

// Pipeline generates SQL. It is safe for concurrent use.
type Pipeline struct {
	schemas    Schemas
	translator translate.Translator
	validator  *sqlguard.Validator
	workers    *workers.Pool
	timeout    time.Duration
	logger     *pterm.Logger
	metrics    *metrics.Metrics
}

// New builds a Pipeline. A nil Validator means the read-only default.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		schemas:    d.Schemas,
		translator: d.Translator,
		validator:  d.Validator,
		workers:    d.Workers,
		timeout:    d.Timeout,
		logger:     d.Logger,
		metrics:    d.Metrics,
	}
	if p.validator == nil {
		p.validator = sqlguard.New()
	}
	if p.timeout <= 0 {
		p.timeout = time.Minute
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	return p
}

// Backend names the translator in use.
func (p *Pipeline) Backend() string { return p.translator.Name() }

// Generate produces a validated statement answering question against subject.
func (p *Pipeline) Generate(ctx context.Context, subject, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, nerrors.New(nerrors.InvalidQuestion, "question must not be empty")
	}

	text, err := p.schemas.GetSchemaText(ctx, subject)
	if err != nil {
		return Result{}, err
	}
	res := Result{SchemaEmpty: p.schemas.Snapshot(subject).Empty()}
	if res.SchemaEmpty {
		p.logger.Warn("subject has no tables, translating without schema context", p.logger.Args("subject", subject))
	}

	req := translate.Request{Question: question, SchemaText: text}
	resp, err := p.translate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res.RawOutput = resp.Text

	sql, err := sqlguard.Extract(resp.Text)
	if err != nil {
		p.invalidate(ctx, req)
		return Result{}, err
	}
	if err := p.validator.Validate(sql, subject, p.schemas.ListSubjects()); err != nil {
		p.invalidate(ctx, req)
		if e, ok := nerrors.As(err); ok {
			e.WithRaw(resp.Text)
		}
		p.logger.Warn("rejected generated statement", p.logger.Args("subject", subject, "error", err.Error()))
		return Result{}, err
	}

	res.SQL = sql
	p.logger.Debug("generated statement", p.logger.Args("subject", subject, "sql", sql))
	return res, nil
}

type translation struct {
	resp translate.Response
	err  error
}

// translate runs the translator on the worker pool. The deadline is hard:
// once it passes the caller gets TranslationUnavailable even if the backend
// ignores cancellation.
func (p *Pipeline) translate(ctx context.Context, req translate.Request) (translate.Response, error) {
	backend := p.translator.Name()
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan translation, 1)
	err := p.workers.Submit(tctx, func() {
		resp, err := p.translator.Translate(tctx, req)
		done <- translation{resp: resp, err: err}
	})
	if err == nil {
		select {
		case t := <-done:
			err = t.err
			if err == nil {
				p.metrics.Translation(backend, "ok", time.Since(start))
				return t.resp, nil
			}
		case <-tctx.Done():
			err = tctx.Err()
		}
	}

	err = p.classify(ctx, tctx, err)
	p.metrics.Translation(backend, string(nerrors.KindOf(err)), time.Since(start))
	p.logger.Warn("translation failed", p.logger.Args("backend", backend, "error", logging.Mask(err.Error())))
	return translate.Response{}, err
}

func (p *Pipeline) classify(ctx, tctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return nerrors.Wrap(nerrors.Canceled, "translation abandoned", ctx.Err())
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return nerrors.Wrap(nerrors.TranslationUnavailable,
			fmt.Sprintf("%s did not answer within %s", p.translator.Name(), p.timeout), err)
	case errors.Is(err, workers.ErrClosed):
		return nerrors.Wrap(nerrors.Internal, "translation rejected during shutdown", err)
	}
	if _, ok := nerrors.As(err); ok {
		return err
	}
	return nerrors.Wrap(nerrors.TranslationUnavailable, p.translator.Name()+" failed", err)
}

func (p *Pipeline) invalidate(ctx context.Context, req translate.Request) {
	if inv, ok := p.translator.(invalidator); ok {
		inv.Invalidate(context.WithoutCancel(ctx), req)
	}
}
