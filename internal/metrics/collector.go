// Package metrics collects in-memory pipeline stage timings and LLM token usage.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
	MinInputTokens    int64
	MaxInputTokens    int64
	MinOutputTokens   int64
	MaxOutputTokens   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"totalInputTokens,omitempty"`
	TotalOutputTokens *int64   `json:"totalOutputTokens,omitempty"`
	AvgInputTokens    *float64 `json:"avgInputTokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avgOutputTokens,omitempty"`
	MinInputTokens    *int64   `json:"minInputTokens,omitempty"`
	MaxInputTokens    *int64   `json:"maxInputTokens,omitempty"`
	MinOutputTokens   *int64   `json:"minOutputTokens,omitempty"`
	MaxOutputTokens   *int64   `json:"maxOutputTokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Fetch         *OperationSnapshot `json:"fetch,omitempty"`
	Normalize     *OperationSnapshot `json:"normalize,omitempty"`
	Extract       *OperationSnapshot `json:"extract,omitempty"`
	LLMGenerate   *OperationSnapshot `json:"llmGenerate,omitempty"`
	Store         *OperationSnapshot `json:"store,omitempty"`
	Transitions   map[string]int64   `json:"transitions,omitempty"`
}

// Operation names for the collector.
const (
	OpFetch       = "fetch"
	OpNormalize   = "normalize"
	OpExtract     = "extract"
	OpLLMGenerate = "llm_generate"
	OpStore       = "store"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu          sync.RWMutex
	startTime   time.Time
	ops         map[string]*OperationMetrics
	transitions map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:   time.Now(),
		ops:         make(map[string]*OperationMetrics),
		transitions: make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:         time.Duration(math.MaxInt64),
			MinInputTokens:  math.MaxInt64,
			MinOutputTokens: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Time runs fn and records its duration under op. A nil Collector only
// runs fn.
func (c *Collector) Time(op string, fn func() error) error {
	if c == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	c.RecordTiming(op, time.Since(start))
	return err
}

// RecordTransition counts a record entering status.
func (c *Collector) RecordTransition(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions[status]++
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens

	if inputTokens < m.MinInputTokens {
		m.MinInputTokens = inputTokens
	}
	if inputTokens > m.MaxInputTokens {
		m.MaxInputTokens = inputTokens
	}
	if outputTokens < m.MinOutputTokens {
		m.MinOutputTokens = outputTokens
	}
	if outputTokens > m.MaxOutputTokens {
		m.MaxOutputTokens = outputTokens
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		avgIn := float64(m.TotalInputTokens) / float64(m.Count)
		avgOut := float64(m.TotalOutputTokens) / float64(m.Count)
		minIn := m.MinInputTokens
		maxIn := m.MaxInputTokens
		minOut := m.MinOutputTokens
		maxOut := m.MaxOutputTokens

		// Reset sentinel values for display
		if minIn == math.MaxInt64 {
			minIn = 0
		}
		if minOut == math.MaxInt64 {
			minOut = 0
		}

		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
		snap.AvgInputTokens = &avgIn
		snap.AvgOutputTokens = &avgOut
		snap.MinInputTokens = &minIn
		snap.MaxInputTokens = &maxIn
		snap.MinOutputTokens = &minOut
		snap.MaxOutputTokens = &maxOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	transitions := make(map[string]int64, len(c.transitions))
	for k, v := range c.transitions {
		transitions[k] = v
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Fetch:         snapshotOp(c.ops[OpFetch], false),
		Normalize:     snapshotOp(c.ops[OpNormalize], false),
		Extract:       snapshotOp(c.ops[OpExtract], false),
		LLMGenerate:   snapshotOp(c.ops[OpLLMGenerate], true),
		Store:         snapshotOp(c.ops[OpStore], false),
		Transitions:   transitions,
	}
}
