package llm

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

// Validator prompt metadata.
const (
	ValidatorSystemPrompt  = "Extract JSON with keys revenue, net_profit, ebitda, eps when present. Return numbers only."
	ValidatorPromptVersion = "financial-validator-v1"
	ValidatorPurpose       = "financial_validation"
	DefaultMaxChars        = 12000
)

// Completer performs JSON-mode completions.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (Completion, error)
	Model() string
}

// EventRecorder persists LLM audit rows.
type EventRecorder interface {
	InsertLLMEvent(ctx context.Context, event monitor.LLMEvent) error
}

// Validation is the merged metric view.
type Validation struct {
	Metrics   map[string]float64
	Agreement float64
	// LLMMetrics is what the model returned; nil when no call was made.
	LLMMetrics map[string]float64
}

// Validator cross-checks deterministic metrics against a model. A nil completer disables it.
type Validator struct {
	completer Completer
	events    EventRecorder
	maxChars  int
	logger    *zap.Logger
}

// NewValidator wires a Validator.
func NewValidator(completer Completer, events EventRecorder, maxChars int, logger *zap.Logger) *Validator {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{completer: completer, events: events, maxChars: maxChars, logger: logger}
}

// Enabled reports whether a model is configured.
func (v *Validator) Enabled() bool {
	return v != nil && v.completer != nil
}

// Validate merges model-extracted metrics into the deterministic set and scores their agreement.
// A failed model call degrades to the disabled result.
func (v *Validator) Validate(ctx context.Context, scanRunID *int64, text string, deterministic map[string]float64) Validation {
	if !v.Enabled() {
		return Validation{Metrics: deterministic, Agreement: 0}
	}
	user := truncateRunes(text, v.maxChars)
	completion, err := v.completer.CompleteJSON(ctx, ValidatorSystemPrompt, user)
	if err != nil {
		v.logger.Warn("financial validation skipped", zap.Error(err))
		return Validation{Metrics: deterministic, Agreement: 0}
	}
	llmMetrics := parseMetrics(completion.Content)
	v.record(ctx, scanRunID, completion, llmMetrics)
	merged, agreement := Merge(deterministic, llmMetrics)
	return Validation{Metrics: merged, Agreement: agreement, LLMMetrics: llmMetrics}
}

func (v *Validator) record(ctx context.Context, scanRunID *int64, c Completion, llmMetrics map[string]float64) {
	if v.events == nil {
		return
	}
	output := make(map[string]any, len(llmMetrics))
	for k, val := range llmMetrics {
		output[k] = val
	}
	if err := v.events.InsertLLMEvent(ctx, monitor.LLMEvent{
		ScanRunID:        scanRunID,
		Purpose:          ValidatorPurpose,
		Model:            v.completer.Model(),
		PromptVersion:    ValidatorPromptVersion,
		InputHash:        c.InputHash,
		Output:           output,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		LatencyMs:        c.Latency.Milliseconds(),
	}); err != nil {
		v.logger.Warn("failed to record llm event", zap.Error(err))
	}
}

// Merge combines deterministic and model metrics.
//   - no deterministic metrics: the model's set, agreement 0.5
//   - no shared keys: the deterministic set, agreement 0.1
//   - otherwise: deterministic plus model-only keys, agreement is the mean
//     of max(0, 1-|a-b|/|a|) over shared keys (0 when a is 0)
func Merge(deterministic, llmMetrics map[string]float64) (map[string]float64, float64) {
	if len(deterministic) == 0 {
		return llmMetrics, 0.5
	}
	var (
		sum     float64
		overlap int
	)
	for key, a := range deterministic {
		b, ok := llmMetrics[key]
		if !ok {
			continue
		}
		overlap++
		if a != 0 {
			sum += math.Max(0, 1-math.Abs(a-b)/math.Abs(a))
		}
	}
	if overlap == 0 {
		return deterministic, 0.1
	}
	merged := make(map[string]float64, len(deterministic)+len(llmMetrics))
	for k, val := range deterministic {
		merged[k] = val
	}
	for k, val := range llmMetrics {
		if _, ok := merged[k]; !ok {
			merged[k] = val
		}
	}
	return merged, sum / float64(overlap)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
