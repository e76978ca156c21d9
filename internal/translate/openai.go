// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"errors"
	"strings"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

const defaultOpenAIEndpoint = "https://api.openai.com"

func init() {
	Register("openai", NewOpenAI)
}

// OpenAI talks to any chat-completions compatible endpoint.
type OpenAI struct {
	http        *httpClient
	model       string
	temperature float64
	maxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAI requires an API key. Endpoint defaults to the public API and may
// point at any compatible server.
func NewOpenAI(cfg config.TranslatorConfig) (Translator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required for the openai backend")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	h := newHTTPClient(endpoint, cfg.Timeout)
	h.header.Set("Authorization", "Bearer "+cfg.APIKey)
	return &OpenAI{http: h, model: model, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Translate(ctx context.Context, req Request) (Response, error) {
	path := "/v1/chat/completions"
	if strings.HasSuffix(o.http.baseURL, "/v1") {
		path = "/chat/completions"
	}
	var out chatResponse
	raw, err := o.http.postJSON(ctx, path, chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: Prompt(req)}},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}, &out)
	if err != nil {
		return Response{}, unavailable(o.Name(), err)
	}
	if len(out.Choices) == 0 {
		return Response{}, nerrors.New(nerrors.MalformedResponse, "openai response has no choices").WithRaw(string(raw))
	}
	return Response{Text: out.Choices[0].Message.Content}, nil
}
