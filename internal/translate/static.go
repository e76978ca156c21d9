// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"errors"

	"nlcube/cli/internal/config"
)

func init() {
	Register("static", func(cfg config.TranslatorConfig) (Translator, error) {
		if cfg.Static == "" {
			return nil, errors.New("translator.static must hold the response text")
		}
		return Static{Text: cfg.Static}, nil
	})
}

// Static answers every request with Text.
type Static struct {
	Text string
}

func (Static) Name() string { return "static" }

func (s Static) Translate(ctx context.Context, _ Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return Response{Text: s.Text}, nil
}

// Func adapts a function to Translator.
type Func func(ctx context.Context, req Request) (Response, error)

func (Func) Name() string { return "func" }

func (f Func) Translate(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }
