// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package translate turns a question plus schema text into model output that
// should contain one SQL statement.
//
// Backends register a Factory under a name at init time and are selected by
// the translator.backend setting:
//
//	openai   chat-completions compatible HTTP endpoint
//	ollama   local Ollama /api/generate
//	gemini   Google Generative Language API
//	bedrock  AWS Bedrock InvokeModel
//	grpc     sidecar process speaking nlcube.translate.v1.Translator
//	static   fixed response, for tests and offline demos
//
// Backends only move text. Statement extraction and validation happen in the
// pipeline, so a backend never decides whether its output is usable SQL.
package translate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

// Request is one translation request.
type Request struct {
	Question   string `msgpack:"question" json:"question"`
	SchemaText string `msgpack:"schema" json:"schema"`
}

// Response carries the raw model output.
type Response struct {
	Text string `msgpack:"text" json:"text"`
}

// Translator produces raw model output for a request.
type Translator interface {
	Name() string
	Translate(ctx context.Context, req Request) (Response, error)
}

// Factory builds a Translator from configuration.
type Factory func(cfg config.TranslatorConfig) (Translator, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available under name, replacing any previous one.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the backend named by cfg.Backend.
func New(cfg config.TranslatorConfig) (Translator, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, nerrors.New(nerrors.ConfigurationError,
			fmt.Sprintf("unknown translator backend %q (available: %v)", cfg.Backend, Backends()))
	}
	t, err := f(cfg)
	if err != nil {
		if _, typed := nerrors.As(err); typed {
			return nil, err
		}
		return nil, nerrors.Wrap(nerrors.ConfigurationError, fmt.Sprintf("configure %s translator", cfg.Backend), err)
	}
	return t, nil
}

// unavailable wraps a transport failure.
func unavailable(backend string, err error) error {
	return nerrors.Wrap(nerrors.TranslationUnavailable, backend+" request failed: "+describeNetworkError(err), err)
}
