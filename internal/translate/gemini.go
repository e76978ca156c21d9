// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
	geminiAPIVersion      = "v1beta"
)

func init() {
	Register("gemini", NewGemini)
}

// Gemini calls the generateContent method of the Generative Language API.
type Gemini struct {
	http        *httpClient
	model       string
	temperature float64
	maxTokens   int
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func NewGemini(cfg config.TranslatorConfig) (Translator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required for the gemini backend")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	h := newHTTPClient(endpoint, cfg.Timeout)
	h.header.Set("x-goog-api-key", cfg.APIKey)
	return &Gemini{http: h, model: model, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Translate(ctx context.Context, req Request) (Response, error) {
	var in geminiRequest
	in.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: Prompt(req)}}}}
	in.GenerationConfig.Temperature = g.temperature
	in.GenerationConfig.MaxOutputTokens = g.maxTokens

	var out geminiResponse
	path := fmt.Sprintf("/%s/models/%s:generateContent", geminiAPIVersion, url.PathEscape(g.model))
	raw, err := g.http.postJSON(ctx, path, in, &out)
	if err != nil {
		return Response{}, unavailable(g.Name(), err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Response{}, nerrors.New(nerrors.MalformedResponse, "gemini response has no candidates").WithRaw(string(raw))
	}
	return Response{Text: out.Candidates[0].Content.Parts[0].Text}, nil
}
