// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

const (
	defaultBedrockRegion = "us-east-1"
	defaultBedrockModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
)

func init() {
	Register("bedrock", NewBedrock)
}

// modelInvoker is the part of the bedrockruntime client used here.
type modelInvoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock invokes a model through AWS Bedrock with SigV4 credentials from
// the default AWS chain.
type Bedrock struct {
	client      modelInvoker
	model       string
	temperature float64
	maxTokens   int
}

// NewBedrock loads the default AWS configuration for cfg.Region.
func NewBedrock(cfg config.TranslatorConfig) (Translator, error) {
	region := cfg.Region
	if region == "" {
		region = defaultBedrockRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for region %s: %w", region, err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrock(client modelInvoker, cfg config.TranslatorConfig) *Bedrock {
	model := cfg.Model
	if model == "" {
		model = defaultBedrockModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Bedrock{client: client, model: model, temperature: cfg.Temperature, maxTokens: maxTokens}
}

func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) Translate(ctx context.Context, req Request) (Response, error) {
	body, err := b.requestBody(Prompt(req))
	if err != nil {
		return Response{}, nerrors.Wrap(nerrors.ConfigurationError, "bedrock request", err)
	}
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return Response{}, unavailable(b.Name(), err)
	}
	text, err := b.parseBody(out.Body)
	if err != nil {
		return Response{}, nerrors.Wrap(nerrors.MalformedResponse, "bedrock response", err).WithRaw(string(out.Body))
	}
	return Response{Text: text}, nil
}

func (b *Bedrock) family() string {
	id := b.model
	// Cross-region inference profiles prefix the provider with a geography.
	if i := strings.IndexByte(id, '.'); i > 0 && len(id[:i]) == 2 {
		id = id[i+1:]
	}
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}

func (b *Bedrock) requestBody(prompt string) ([]byte, error) {
	var body map[string]any
	switch b.family() {
	case "anthropic":
		body = map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        b.maxTokens,
			"temperature":       b.temperature,
			"messages":          []map[string]string{{"role": "user", "content": prompt}},
		}
	case "meta":
		body = map[string]any{
			"prompt":      prompt,
			"max_gen_len": b.maxTokens,
			"temperature": b.temperature,
		}
	case "mistral":
		body = map[string]any{
			"prompt":      prompt,
			"max_tokens":  b.maxTokens,
			"temperature": b.temperature,
		}
	default:
		return nil, fmt.Errorf("unsupported bedrock model family %q", b.family())
	}
	return json.Marshal(body)
}

func (b *Bedrock) parseBody(raw []byte) (string, error) {
	switch b.family() {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", fmt.Errorf("no content blocks")
		}
		return resp.Content[0].Text, nil
	case "meta":
		var resp struct {
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", err
		}
		return resp.Generation, nil
	default:
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", err
		}
		if len(resp.Outputs) == 0 {
			return "", fmt.Errorf("no outputs")
		}
		return resp.Outputs[0].Text, nil
	}
}
