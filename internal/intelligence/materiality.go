package intelligence

import "github.com/JakeFAU/realtime-ir-watcher/internal/monitor"

// Thresholds are the lower bounds of each severity band.
type Thresholds struct {
	// Minor is informational; anything below Moderate grades as Minor.
	Minor       float64
	Moderate    float64
	Significant float64
	Critical    float64
}

// DefaultThresholds returns the product defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Minor: 0.2, Moderate: 0.4, Significant: 0.7, Critical: 0.9}
}

// Materiality is a graded score.
type Materiality struct {
	Severity monitor.Severity
	Score    float64
}

// MaterialityEngine grades raw change scores.
type MaterialityEngine struct {
	th Thresholds
}

// NewMaterialityEngine builds an engine with the given bands.
func NewMaterialityEngine(th Thresholds) *MaterialityEngine {
	return &MaterialityEngine{th: th}
}

// Score clamps raw to [0,1] and assigns the highest band it reaches.
func (e *MaterialityEngine) Score(raw float64) Materiality {
	score := clamp01(raw)
	var sev monitor.Severity
	switch {
	case score >= e.th.Critical:
		sev = monitor.SeverityCritical
	case score >= e.th.Significant:
		sev = monitor.SeveritySignificant
	case score >= e.th.Moderate:
		sev = monitor.SeverityModerate
	default:
		sev = monitor.SeverityMinor
	}
	return Materiality{Severity: sev, Score: score}
}
