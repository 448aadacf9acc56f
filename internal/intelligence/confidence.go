// Package intelligence scores extraction confidence, classifies changes and
// grades their materiality.
package intelligence

// ConfidenceInputs are the evidence signals for one scan, each expected in [0,1].
type ConfidenceInputs struct {
	HasTables         bool
	HeadingMatchRatio float64
	UnitConsistency   float64
	LLMAgreement      float64
}

// Confidence is the scored outcome.
type Confidence struct {
	Snapshot float64
	Metrics  map[string]float64
}

// ScoreConfidence starts at 0.3 and adds weighted evidence. Every metric
// receives the snapshot score minus 0.05.
func ScoreConfidence(in ConfidenceInputs, metrics map[string]float64) Confidence {
	base := 0.3
	if in.HasTables {
		base += 0.2
	}
	base += clamp01(in.HeadingMatchRatio) * 0.2
	base += clamp01(in.UnitConsistency) * 0.2
	base += clamp01(in.LLMAgreement) * 0.1
	snapshot := clamp01(base)

	perMetric := make(map[string]float64, len(metrics))
	for name := range metrics {
		perMetric[name] = clamp01(snapshot - 0.05)
	}
	return Confidence{Snapshot: snapshot, Metrics: perMetric}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
