// Package extract turns cleaned job posting HTML into structured job data
// using a generative model constrained to a fixed JSON schema.
package extract

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/raphaelgruber/jobingest/internal/metrics"
	"github.com/raphaelgruber/jobingest/internal/models"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 60 * time.Second

//go:embed schema.json
var schemaJSON string

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// Generator produces a single JSON document from a system and user prompt.
// *llm.Model satisfies it.
type Generator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f GeneratorFunc) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// Requester runs structured extraction requests.
type Requester struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a Requester. A non-positive timeout uses DefaultTimeout.
func New(gen Generator, timeout time.Duration, logger *slog.Logger) *Requester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{gen: gen, timeout: timeout, logger: logger}
}

// WithMetrics records the duration of every extraction.
func (r *Requester) WithMetrics(c *metrics.Collector) *Requester {
	r.metrics = c
	return r
}

// Extract asks the model for the job data contained in cleanedHTML. meta may
// be nil. Every failure is an *Error.
func (r *Requester) Extract(ctx context.Context, cleanedHTML string, meta *models.PageMeta) (*models.JobData, error) {
	if strings.TrimSpace(cleanedHTML) == "" {
		return nil, emptyInputError()
	}

	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordTiming(metrics.OpExtract, time.Since(start))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.gen.GenerateJSON(callCtx, systemPrompt, userPrompt(cleanedHTML, meta))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(r.timeout, err)
		}
		return nil, modelError(err)
	}

	data, err := decode(raw)
	if err != nil {
		r.logger.Debug("extraction output rejected", "error", err, "output_len", len(raw))
		return nil, err
	}
	return data, nil
}

// decode validates model output against the schema and converts it to
// JobData. Null and empty values count as absent.
func decode(raw string) (*models.JobData, error) {
	doc, ok := jsonObject(raw)
	if !ok {
		return nil, decodeError(errors.New("no JSON object in output"))
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return nil, decodeError(err)
	}
	pruneAbsent(fields)
	canonicalizeEnums(fields)

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load output schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return nil, decodeError(err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, schemaError(strings.Join(msgs, "; "))
	}

	// Round trip through JSON so unknown keys the model added are dropped.
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, decodeError(err)
	}
	var data models.JobData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, decodeError(err)
	}
	data.Technologies = NormalizeTechnologies(data.Technologies)
	return &data, nil
}

// jsonObject returns the outermost {...} span of s. Models sometimes wrap
// JSON in markdown fences or a sentence despite JSON mode.
func jsonObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

func pruneAbsent(fields map[string]any) {
	for k, v := range fields {
		switch t := v.(type) {
		case nil:
			delete(fields, k)
		case string:
			if strings.TrimSpace(t) == "" {
				delete(fields, k)
			}
		}
	}
}

// canonicalizeEnums folds case and separators of the enumerated fields so
// "Full Time" validates as "full-time". Anything else still fails the schema.
func canonicalizeEnums(fields map[string]any) {
	for _, k := range []string{"employmentType", "remotePolicy"} {
		s, ok := fields[k].(string)
		if !ok {
			continue
		}
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
		fields[k] = s
	}
}
