// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

type fakeInvoker struct {
	in   *bedrockruntime.InvokeModelInput
	body string
	err  error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockAnthropic(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"SELECT 3;"}],"stop_reason":"end_turn"}`}
	b := newBedrock(inv, config.TranslatorConfig{Temperature: 0.1})

	resp, err := b.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 3;", resp.Text)

	assert.Equal(t, defaultBedrockModel, aws.ToString(inv.in.ModelId))
	var body map[string]any
	require.NoError(t, json.Unmarshal(inv.in.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.Equal(t, float64(2000), body["max_tokens"])
}

func TestBedrockFamilies(t *testing.T) {
	tests := []struct {
		model, body, want string
	}{
		{"us.anthropic.claude-3-haiku-20240307-v1:0", `{"content":[{"text":"SELECT 1;"}]}`, "SELECT 1;"},
		{"meta.llama3-70b-instruct-v1:0", `{"generation":"SELECT 2;"}`, "SELECT 2;"},
		{"mistral.mistral-large-2402-v1:0", `{"outputs":[{"text":"SELECT 3;"}]}`, "SELECT 3;"},
	}
	for _, tt := range tests {
		b := newBedrock(&fakeInvoker{body: tt.body}, config.TranslatorConfig{Model: tt.model})
		resp, err := b.Translate(context.Background(), sampleRequest)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.want, resp.Text)
	}
}

func TestBedrockErrors(t *testing.T) {
	b := newBedrock(&fakeInvoker{err: errors.New("ThrottlingException: rate exceeded")}, config.TranslatorConfig{})
	_, err := b.Translate(context.Background(), sampleRequest)
	assert.Equal(t, nerrors.TranslationUnavailable, nerrors.KindOf(err))

	b = newBedrock(&fakeInvoker{body: `{"content":[]}`}, config.TranslatorConfig{})
	_, err = b.Translate(context.Background(), sampleRequest)
	assert.Equal(t, nerrors.MalformedResponse, nerrors.KindOf(err))

	b = newBedrock(&fakeInvoker{}, config.TranslatorConfig{Model: "cohere.command-r-v1:0"})
	_, err = b.Translate(context.Background(), sampleRequest)
	assert.Equal(t, nerrors.ConfigurationError, nerrors.KindOf(err))
}

func dialBufconn(t *testing.T, tr Translator) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterTranslatorServer(srv, tr)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGRPC(config.TranslatorConfig{Endpoint: "passthrough:///bufnet"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCRoundTrip(t *testing.T) {
	client := dialBufconn(t, Func(func(_ context.Context, req Request) (Response, error) {
		return Response{Text: "-- " + req.Question + "\nSELECT 1;"}, nil
	}))

	resp, err := client.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "-- total sales amount\nSELECT 1;", resp.Text)
}

func TestGRPCServerError(t *testing.T) {
	client := dialBufconn(t, Func(func(context.Context, Request) (Response, error) {
		return Response{}, nerrors.New(nerrors.TranslationUnavailable, "model not loaded")
	}))

	_, err := client.Translate(context.Background(), sampleRequest)
	e, ok := nerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, nerrors.TranslationUnavailable, e.Kind)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()

	var calls atomic.Int32
	next := Func(func(_ context.Context, req Request) (Response, error) {
		calls.Add(1)
		return Response{Text: "SELECT 1;"}, nil
	})
	c := NewCached(next, rdb, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := c.Translate(ctx, sampleRequest)
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1;", resp.Text)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, mr.Keys(), 1)

	// Different schema text is a different entry.
	other := sampleRequest
	other.SchemaText = "-- no tables"
	_, err = c.Translate(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	c.Invalidate(ctx, sampleRequest)
	_, err = c.Translate(ctx, sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	mr.FastForward(2 * time.Hour)
	_, err = c.Translate(ctx, sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestCachedBypassesRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer rdb.Close()
	mr.Close()

	c := NewCached(Static{Text: "SELECT 1;"}, rdb, 0, nil)
	resp, err := c.Translate(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", resp.Text)
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()

	c := NewCached(Func(func(context.Context, Request) (Response, error) {
		return Response{}, nerrors.New(nerrors.TranslationUnavailable, "down")
	}), rdb, time.Hour, nil)
	_, err = c.Translate(context.Background(), sampleRequest)
	assert.Equal(t, nerrors.TranslationUnavailable, nerrors.KindOf(err))
	assert.Empty(t, mr.Keys())
}
