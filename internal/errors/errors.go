// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors defines typed errors with categories for user-friendly reporting.
// Every failure produced by the core carries a machine-readable Kind that survives
// wrapping, so the transport layer can decide between "retry", "rephrase" and
// "report a defect" without inspecting message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ConfigurationError indicates invalid startup configuration (bad pool size, bad path).
	ConfigurationError Kind = "configuration_error"
	// ConnectionError indicates a store handle could not be opened or validated.
	ConnectionError Kind = "connection_error"
	// PoolExhausted indicates no connection was granted within the acquire timeout.
	PoolExhausted Kind = "pool_exhausted"
	// TranslationUnavailable indicates the translation provider timed out or failed in transport.
	TranslationUnavailable Kind = "translation_unavailable"
	// MalformedResponse indicates the provider output held no recognizable statement.
	MalformedResponse Kind = "malformed_response"
	// UnsafeQuery indicates the statement failed validation.
	UnsafeQuery Kind = "unsafe_query"
	// ExecutionError indicates the store rejected the statement.
	ExecutionError Kind = "execution_error"
	// ExecutionTimeout indicates the caller stopped waiting for a running statement.
	ExecutionTimeout Kind = "execution_timeout"
	// SerializationError indicates the result could not be converted to the columnar payload.
	SerializationError Kind = "serialization_error"
	// AlreadyExists indicates a subject with that name is already registered.
	AlreadyExists Kind = "already_exists"
	// InvalidName indicates a subject name outside the allowed charset.
	InvalidName Kind = "invalid_name"
	// UnknownSubject indicates the subject is not registered.
	UnknownSubject Kind = "unknown_subject"
	// Busy indicates a subject could not be removed because connections are in flight.
	Busy Kind = "busy"
	// InvalidQuestion indicates an empty question.
	InvalidQuestion Kind = "invalid_question"
	// Canceled indicates the caller abandoned the request.
	Canceled Kind = "canceled"
	// Internal indicates an unexpected defect.
	Internal Kind = "internal"
)

// E wraps an error with kind and human-friendly message.
// SQL and Raw carry the generated statement and the raw provider output
// when the failure happened after translation.
type E struct {
	Kind    Kind
	Message string
	Err     error
	SQL     string
	Raw     string
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// WithSQL attaches the statement that was being handled.
func (e *E) WithSQL(sql string) *E {
	e.SQL = sql
	return e
}

// WithRaw attaches the raw provider output.
func (e *E) WithRaw(raw string) *E {
	e.Raw = raw
	return e
}

// As finds the outermost *E in err's chain.
func As(err error) (*E, bool) {
	var e *E
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of the outermost *E in err's chain, or Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a failure of this kind may succeed when repeated
// with backoff.
func Retryable(kind Kind) bool {
	switch kind {
	case ConnectionError, PoolExhausted, TranslationUnavailable:
		return true
	}
	return false
}
