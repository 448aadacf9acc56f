package intelligence

import (
	"math"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

// DefaultFinancialThreshold is the relative move that counts as a financial change.
const DefaultFinancialThreshold = 0.02

// Change summaries.
const (
	SummaryFinancial = "Financial metrics changed"
	SummaryDocument  = "Document update detected"
	SummaryText      = "Textual content changed"
	SummaryNone      = "No meaningful change"
)

// Detection is the classified difference between two scans.
type Detection struct {
	Type    monitor.ChangeType
	Summary string
	Details map[string]any
	Score   float64
}

// Detector classifies changes in strict priority: financial, document, text.
type Detector struct {
	financialThreshold float64
}

// NewDetector builds a detector. A non-positive threshold uses the default.
func NewDetector(financialThreshold float64) *Detector {
	if financialThreshold <= 0 {
		financialThreshold = DefaultFinancialThreshold
	}
	return &Detector{financialThreshold: financialThreshold}
}

// Detect compares the previous page and metrics with the current ones.
// oldPage is nil when the company has no earlier snapshot.
func (d *Detector) Detect(
	oldPage *monitor.NormalizedPage,
	newPage monitor.NormalizedPage,
	oldMetrics, newMetrics map[string]float64,
	pdfChanged bool,
) Detection {
	if len(oldMetrics) > 0 && len(newMetrics) > 0 {
		deltas, maxChange := FinancialDelta(oldMetrics, newMetrics)
		if maxChange > d.financialThreshold {
			return Detection{
				Type:    monitor.ChangeTypeFinancial,
				Summary: SummaryFinancial,
				Details: map[string]any{"deltas": deltas, "max_change": maxChange},
				Score:   math.Min(1, maxChange),
			}
		}
	}
	if pdfChanged {
		return Detection{
			Type:    monitor.ChangeTypeDocument,
			Summary: SummaryDocument,
			Details: map[string]any{"pdf_changed": true},
			Score:   0.6,
		}
	}
	oldHash := ""
	if oldPage != nil {
		oldHash = oldPage.PageHash
	}
	if oldHash != newPage.PageHash {
		return Detection{
			Type:    monitor.ChangeTypeText,
			Summary: SummaryText,
			Details: map[string]any{"old_hash": oldHash, "new_hash": newPage.PageHash},
			Score:   0.35,
		}
	}
	return Detection{
		Type:    monitor.ChangeTypeText,
		Summary: SummaryNone,
		Details: map[string]any{},
		Score:   0,
	}
}

// FinancialDelta returns |new-old|/|old| per shared key, skipping keys whose old value is zero.
func FinancialDelta(oldMetrics, newMetrics map[string]float64) (map[string]float64, float64) {
	deltas := make(map[string]float64, len(newMetrics))
	maxChange := 0.0
	for key, newValue := range newMetrics {
		oldValue, ok := oldMetrics[key]
		if !ok || oldValue == 0 {
			continue
		}
		change := math.Abs(newValue-oldValue) / math.Abs(oldValue)
		deltas[key] = change
		maxChange = math.Max(maxChange, change)
	}
	return deltas, maxChange
}
