// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"strings"

	"nlcube/cli/internal/config"
)

const defaultOllamaEndpoint = "http://localhost:11434"

func init() {
	Register("ollama", NewOllama)
}

// Ollama uses a local Ollama server's generate API without streaming.
type Ollama struct {
	http        *httpClient
	model       string
	temperature float64
	maxTokens   int
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func NewOllama(cfg config.TranslatorConfig) (Translator, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	// Accept a full /api/generate URL as well as a base URL.
	endpoint = strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/api/generate")
	model := cfg.Model
	if model == "" {
		model = "sqlcoder"
	}
	return &Ollama{
		http:        newHTTPClient(endpoint, cfg.Timeout),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Translate(ctx context.Context, req Request) (Response, error) {
	var out ollamaResponse
	_, err := o.http.postJSON(ctx, "/api/generate", ollamaRequest{
		Model:   o.model,
		Prompt:  Prompt(req),
		Stream:  false,
		Options: ollamaOptions{Temperature: o.temperature, NumPredict: o.maxTokens},
	}, &out)
	if err != nil {
		return Response{}, unavailable(o.Name(), err)
	}
	return Response{Text: out.Response}, nil
}
