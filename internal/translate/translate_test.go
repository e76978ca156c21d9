// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

var sampleRequest = Request{
	Question:   "total sales amount",
	SchemaText: "CREATE TABLE \"orders\" (\n    \"amount\" DOUBLE\n);",
}

func TestBackendsRegistered(t *testing.T) {
	assert.Equal(t, []string{"bedrock", "gemini", "grpc", "ollama", "openai", "static"}, Backends())
	assert.ElementsMatch(t, config.Backends, Backends())
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(config.TranslatorConfig{Backend: "nope"})
	assert.Equal(t, nerrors.ConfigurationError, nerrors.KindOf(err))
}

func TestNewMissingKey(t *testing.T) {
	for _, backend := range []string{"openai", "gemini"} {
		_, err := New(config.TranslatorConfig{Backend: backend})
		assert.Equal(t, nerrors.ConfigurationError, nerrors.KindOf(err), backend)
	}
	_, err := New(config.TranslatorConfig{Backend: "static"})
	assert.Equal(t, nerrors.ConfigurationError, nerrors.KindOf(err))
}

func TestPrompt(t *testing.T) {
	p := Prompt(sampleRequest)
	assert.True(t, strings.HasPrefix(p, "### Instructions:"))
	assert.Contains(t, p, "answers the question `total sales amount`.")
	assert.Contains(t, p, sampleRequest.SchemaText)
	assert.True(t, strings.HasSuffix(p, "```sql\n"))
}

func TestStatic(t *testing.T) {
	tr, err := New(config.TranslatorConfig{Backend: "static", Static: "SELECT 1;"})
	require.NoError(t, err)
	resp, err := tr.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", resp.Text)
}

func TestOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var in chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "sqlcoder-7b", in.Model)
		assert.Equal(t, 0.1, in.Temperature)
		assert.Equal(t, 2000, in.MaxTokens)
		if assert.Len(t, in.Messages, 1) {
			assert.Contains(t, in.Messages[0].Content, "total sales amount")
		}

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"SELECT SUM(amount) FROM orders;"}}]}`))
	}))
	defer srv.Close()

	tr, err := New(config.TranslatorConfig{
		Backend: "openai", Endpoint: srv.URL, APIKey: "sk-test", Model: "sqlcoder-7b",
		Temperature: 0.1, MaxTokens: 2000, Timeout: time.Second,
	})
	require.NoError(t, err)
	resp, err := tr.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(amount) FROM orders;", resp.Text)
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   nerrors.Kind
		msg    string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, nerrors.TranslationUnavailable, "rejected the API key"},
		{"server error", http.StatusBadGateway, ``, nerrors.TranslationUnavailable, "unavailable"},
		{"no choices", http.StatusOK, `{"choices":[]}`, nerrors.MalformedResponse, "no choices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr, err := NewOpenAI(config.TranslatorConfig{Endpoint: srv.URL, APIKey: "k"})
			require.NoError(t, err)
			_, err = tr.Translate(context.Background(), sampleRequest)
			e, ok := nerrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Contains(t, e.Message, tt.msg)
		})
	}
}

func TestDeadlineIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr, err := NewOllama(config.TranslatorConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Translate(ctx, sampleRequest)
	e, ok := nerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, nerrors.TranslationUnavailable, e.Kind)
	assert.Contains(t, e.Message, "timed out")
}

func TestOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var in ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.False(t, in.Stream)
		assert.Equal(t, "sqlcoder", in.Model)
		_, _ = w.Write([]byte(`{"model":"sqlcoder","response":"SELECT 1;\n` + "```" + `","done":true}`))
	}))
	defer srv.Close()

	tr, err := NewOllama(config.TranslatorConfig{Endpoint: srv.URL + "/api/generate"})
	require.NoError(t, err)
	resp, err := tr.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n```", resp.Text)
}

func TestGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"SELECT 2;"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	tr, err := NewGemini(config.TranslatorConfig{Endpoint: srv.URL, APIKey: "g-key", Model: "gemini-test"})
	require.NoError(t, err)
	resp, err := tr.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2;", resp.Text)
}
