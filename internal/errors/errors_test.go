// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  *E
		want string
	}{
		{
			name: "message only",
			err:  New(InvalidName, "subject name \"a-b\" is invalid"),
			want: "invalid_name: subject name \"a-b\" is invalid",
		},
		{
			name: "wrapped cause",
			err:  Wrap(ConnectionError, "open sales", io.ErrUnexpectedEOF),
			want: "connection_error: open sales: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "direct", err: New(UnsafeQuery, "stacked statements"), want: UnsafeQuery},
		{name: "fmt wrapped", err: fmt.Errorf("ask: %w", New(PoolExhausted, "no connection")), want: PoolExhausted},
		{name: "outermost wins", err: Wrap(ExecutionError, "run", New(ConnectionError, "dead")), want: ExecutionError},
		{name: "plain error", err: io.EOF, want: Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{ConnectionError, true},
		{PoolExhausted, true},
		{TranslationUnavailable, true},
		{MalformedResponse, false},
		{UnsafeQuery, false},
		{ExecutionError, false},
		{SerializationError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := Retryable(tt.kind); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ExecutionError, "no such column").WithSQL("SELECT x FROM t;").WithRaw("raw")
	e, ok := As(fmt.Errorf("outer: %w", err))
	if !ok {
		t.Fatal("As() did not find *E")
	}
	if e.SQL != "SELECT x FROM t;" || e.Raw != "raw" {
		t.Errorf("details = %q/%q", e.SQL, e.Raw)
	}
}
