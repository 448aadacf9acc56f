package intelligence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

func TestScoreConfidence(t *testing.T) {
	t.Parallel()

	got := ScoreConfidence(ConfidenceInputs{
		HasTables:         true,
		HeadingMatchRatio: 0.8,
		UnitConsistency:   0.8,
		LLMAgreement:      0.5,
	}, map[string]float64{"revenue": 1, "eps": 2})
	// 0.3 + 0.2 + 0.16 + 0.16 + 0.05
	require.InDelta(t, 0.87, got.Snapshot, 1e-9)
	require.Len(t, got.Metrics, 2)
	require.InDelta(t, 0.82, got.Metrics["revenue"], 1e-9)

	low := ScoreConfidence(ConfidenceInputs{HeadingMatchRatio: -3, UnitConsistency: 7, LLMAgreement: 2}, nil)
	require.InDelta(t, 0.3+0.2+0.1, low.Snapshot, 1e-9)
	require.Empty(t, low.Metrics)
}

func TestMateriality(t *testing.T) {
	t.Parallel()

	engine := NewMaterialityEngine(DefaultThresholds())
	tests := []struct {
		raw   float64
		sev   monitor.Severity
		score float64
	}{
		{0.05, monitor.SeverityMinor, 0.05},
		{0.35, monitor.SeverityMinor, 0.35},
		{0.4, monitor.SeverityModerate, 0.4},
		{0.6, monitor.SeverityModerate, 0.6},
		{0.7, monitor.SeveritySignificant, 0.7},
		{0.95, monitor.SeverityCritical, 0.95},
		{-1, monitor.SeverityMinor, 0},
		{4, monitor.SeverityCritical, 1},
	}
	for _, tt := range tests {
		got := engine.Score(tt.raw)
		assert.Equal(t, tt.sev, got.Severity, "raw %v", tt.raw)
		assert.InDelta(t, tt.score, got.Score, 1e-9, "raw %v", tt.raw)
	}
}

func TestDetectFinancial(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	got := d.Detect(
		&monitor.NormalizedPage{PageHash: "a"},
		monitor.NormalizedPage{PageHash: "b"},
		map[string]float64{"revenue": 100, "eps": 0},
		map[string]float64{"revenue": 130, "eps": 5, "ebitda": 9},
		true,
	)
	require.Equal(t, monitor.ChangeTypeFinancial, got.Type)
	require.Equal(t, SummaryFinancial, got.Summary)
	require.GreaterOrEqual(t, got.Score, 0.2)
	require.InDelta(t, 0.3, got.Score, 1e-9)
	deltas := got.Details["deltas"].(map[string]float64)
	require.Len(t, deltas, 1)
	require.InDelta(t, 0.3, got.Details["max_change"], 1e-9)
}

func TestDetectPriorityFallsThrough(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultFinancialThreshold)
	old := &monitor.NormalizedPage{PageHash: "a"}

	small := d.Detect(old, monitor.NormalizedPage{PageHash: "a"},
		map[string]float64{"revenue": 100}, map[string]float64{"revenue": 101}, true)
	require.Equal(t, monitor.ChangeTypeDocument, small.Type)
	require.InDelta(t, 0.6, small.Score, 1e-9)
	require.Equal(t, true, small.Details["pdf_changed"])

	text := d.Detect(old, monitor.NormalizedPage{PageHash: "b"}, nil, map[string]float64{"revenue": 1}, false)
	require.Equal(t, monitor.ChangeTypeText, text.Type)
	require.Equal(t, SummaryText, text.Summary)
	require.InDelta(t, 0.35, text.Score, 1e-9)
	require.Equal(t, map[string]any{"old_hash": "a", "new_hash": "b"}, text.Details)

	first := d.Detect(nil, monitor.NormalizedPage{PageHash: "b"}, nil, nil, false)
	require.Equal(t, SummaryText, first.Summary)
	require.Equal(t, "", first.Details["old_hash"])

	none := d.Detect(old, monitor.NormalizedPage{PageHash: "a"}, nil, nil, false)
	require.Equal(t, monitor.ChangeTypeText, none.Type)
	require.Equal(t, SummaryNone, none.Summary)
	require.Zero(t, none.Score)
	require.Empty(t, none.Details)
}

func TestFinancialDelta(t *testing.T) {
	t.Parallel()

	deltas, maxChange := FinancialDelta(
		map[string]float64{"revenue": -200, "eps": 4},
		map[string]float64{"revenue": -100, "eps": 5, "pat": 1},
	)
	require.InDelta(t, 0.5, deltas["revenue"], 1e-9)
	require.InDelta(t, 0.25, deltas["eps"], 1e-9)
	require.NotContains(t, deltas, "pat")
	require.InDelta(t, 0.5, maxChange, 1e-9)
}
