package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/raphaelgruber/jobingest/internal/config"
	"github.com/raphaelgruber/jobingest/internal/metrics"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

// recordingLLM captures call options and returns a canned response.
type recordingLLM struct {
	opts     llms.CallOptions
	messages []llms.MessageContent
	resp     *llms.ContentResponse
	err      error
}

func (r *recordingLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	r.messages = messages
	for _, o := range options {
		o(&r.opts)
	}
	return r.resp, r.err
}

func (r *recordingLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, r, prompt, options...)
}

func TestGenerateJSON_DeterministicOptions(t *testing.T) {
	rec := &recordingLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        `{"position":"Engineer"}`,
		GenerationInfo: map[string]any{"PromptTokens": int32(120), "CompletionTokens": 15},
	}}}}
	collector := metrics.NewCollector()
	m := NewModelWith(rec, "test-model").WithMetrics(collector)

	out, err := m.GenerateJSON(context.Background(), "system", "user")
	require.NoError(t, err)

	assert.Equal(t, `{"position":"Engineer"}`, out)
	assert.True(t, rec.opts.JSONMode)
	assert.Equal(t, 0.0, rec.opts.Temperature)
	assert.Equal(t, 1, rec.opts.TopK)
	require.Len(t, rec.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, rec.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, rec.messages[1].Role)

	snap := collector.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	assert.Equal(t, int64(1), snap.LLMGenerate.Count)
	require.NotNil(t, snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(120), *snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(15), *snap.LLMGenerate.TotalOutputTokens)
}

func TestGenerateJSON_Errors(t *testing.T) {
	t.Run("fatal provider error", func(t *testing.T) {
		m := NewModelWith(&recordingLLM{err: errors.New("HTTP 401: bad key")}, "x")
		_, err := m.GenerateJSON(context.Background(), "s", "u")
		assert.ErrorIs(t, err, ErrFatalAPI)
	})

	t.Run("no choices", func(t *testing.T) {
		m := NewModelWith(&recordingLLM{resp: &llms.ContentResponse{}}, "x")
		_, err := m.GenerateJSON(context.Background(), "s", "u")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrFatalAPI)
	})

	t.Run("fake model", func(t *testing.T) {
		m := NewModelWith(fake.NewFakeLLM([]string{`{}`}), "fake")
		out, err := m.GenerateJSON(context.Background(), "s", "u")
		require.NoError(t, err)
		assert.Equal(t, "{}", out)
	})
}

func TestNewModel_MissingKeys(t *testing.T) {
	for _, provider := range []string{config.ProviderGoogleAI, config.ProviderOpenAI, config.ProviderAnthropic} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.LLMProvider = provider
			_, err := NewModel(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "API key required")
		})
	}

	cfg := config.Default()
	cfg.LLMProvider = "cohere"
	_, err := NewModel(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported LLM provider")
}
