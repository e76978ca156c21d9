// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	nerrors "nlcube/cli/internal/errors"
)

func TestWithBackoff(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	p.defaults()

	tests := []struct {
		name      string
		failures  []nerrors.Kind
		wantCalls int
		wantKind  nerrors.Kind
	}{
		{"success", nil, 1, ""},
		{"recovers from exhaustion", []nerrors.Kind{nerrors.PoolExhausted, nerrors.ConnectionError}, 3, ""},
		{"gives up", []nerrors.Kind{nerrors.PoolExhausted, nerrors.PoolExhausted, nerrors.PoolExhausted, nerrors.PoolExhausted}, 3, nerrors.PoolExhausted},
		{"execution errors are final", []nerrors.Kind{nerrors.ExecutionError}, 1, nerrors.ExecutionError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			v, err := withBackoff(context.Background(), p, storeRetryable, func(int) (int, error) {
				calls++
				if calls <= len(tt.failures) {
					return 0, nerrors.New(tt.failures[calls-1], "x")
				}
				return 42, nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				assert.Equal(t, 42, v)
			} else {
				assert.Equal(t, tt.wantKind, nerrors.KindOf(err))
			}
		})
	}
}

func TestWithBackoffCanceled(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Backoff: time.Hour}
	p.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := withBackoff(ctx, p, storeRetryable, func(int) (int, error) {
		return 0, nerrors.New(nerrors.ConnectionError, "down")
	})
	assert.Equal(t, nerrors.Canceled, nerrors.KindOf(err))
}
