// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package service

import (
	"context"
	"math/rand"
	"time"

	nerrors "nlcube/cli/internal/errors"
)

// RetryPolicy bounds the caller-side retries of store failures.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts    int
	Backoff     time.Duration
	MaxInterval time.Duration
	// Jitter is the +/- fraction applied to each wait.
	Jitter float64
}

func (p *RetryPolicy) defaults() {
	if p.Attempts < 1 {
		p.Attempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 200 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
}

// storeRetryable reports whether a failure is worth another attempt at the
// execution step. Translation retries are handled separately.
func storeRetryable(err error) bool {
	switch nerrors.KindOf(err) {
	case nerrors.ConnectionError, nerrors.PoolExhausted:
		return true
	}
	return false
}

// withBackoff calls fn until it succeeds, fails with a non-retryable error
// or runs out of attempts. It never sleeps past ctx.
func withBackoff[T any](ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	wait := p.Backoff
	for attempt := 1; ; attempt++ {
		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		if attempt >= p.Attempts || !retryable(err) {
			return zero, err
		}

		d := wait
		if p.Jitter > 0 {
			d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
		}
		if d > p.MaxInterval {
			d = p.MaxInterval
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, nerrors.Wrap(nerrors.Canceled, "gave up waiting to retry", ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
}
