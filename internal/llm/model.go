// Package llm wraps langchaingo chat models behind a small JSON generation API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/jobingest/internal/config"
	"github.com/raphaelgruber/jobingest/internal/metrics"
)

// ErrFatalAPI marks provider errors that retrying will not fix
// (exhausted credits, quota, bad credentials).
var ErrFatalAPI = errors.New("fatal LLM API error")

// Model wraps a langchaingo model for deterministic JSON generation.
type Model struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderGoogleAI:
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("Google AI API key required")
		}
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.GoogleAPIKey),
			googleai.WithDefaultModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create googleai model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
			ollama.WithFormat("json"),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

// NewModelWith wraps an existing langchaingo model.
func NewModelWith(model llms.Model, name string) *Model {
	return &Model{llm: model, modelName: name}
}

// WithMetrics records timing and token usage of every generation.
func (m *Model) WithMetrics(c *metrics.Collector) *Model {
	m.metrics = c
	return m
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// GenerateJSON asks for a single JSON document with temperature 0 and
// top-k 1 so repeated calls on the same page agree.
func (m *Model) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithJSONMode(),
		llms.WithTemperature(0),
		llms.WithTopK(1),
	)
	if err != nil {
		return "", fmt.Errorf("generate json: %w", wrapFatalError(err))
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	choice := response.Choices[0]

	if m.metrics != nil {
		in, out := tokenUsage(choice.GenerationInfo)
		m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start), in, out)
	}

	return choice.Content, nil
}

// tokenUsage reads input/output token counts from provider generation
// info. Providers disagree on key names and integer widths.
func tokenUsage(info map[string]any) (input, output int64) {
	return firstCount(info, "PromptTokens", "InputTokens", "input_tokens"),
		firstCount(info, "CompletionTokens", "OutputTokens", "output_tokens")
}

func firstCount(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

// fatalMarkers are lowercase substrings of provider errors that will not
// go away on retry.
var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
