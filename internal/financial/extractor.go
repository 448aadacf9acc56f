// Package financial pulls canonical financial metrics out of page and document text.
package financial

import (
	"regexp"
	"strconv"
	"strings"
)

// Canonical metric names.
const (
	MetricRevenue   = "revenue"
	MetricNetProfit = "net_profit"
	MetricEBITDA    = "ebitda"
	MetricEPS       = "eps"
)

// aliases are checked in order; the first substring hit names the metric.
var aliases = []struct {
	alias     string
	canonical string
}{
	{"revenue", MetricRevenue},
	{"net sales", MetricRevenue},
	{"turnover", MetricRevenue},
	{"income from operations", MetricRevenue},
	{"net profit", MetricNetProfit},
	{"profit after tax", MetricNetProfit},
	{"pat", MetricNetProfit},
	{"ebitda", MetricEBITDA},
	{"eps", MetricEPS},
	{"earnings per share", MetricEPS},
}

var (
	lineRe = regexp.MustCompile(`(?i)(?P<label>[A-Za-z ()/-]{3,})[:\-]?\s*(?P<currency>INR|USD|EUR|Rs\.?|₹|\$|€)?\s*` +
		`(?P<value>\d[\d,]*(?:\.\d+)?)\s*(?P<unit>Cr|Crore|Mn|Million|Bn|Billion)?`)
	periodRe = regexp.MustCompile(`(?i)\b(Q[1-4]\s*FY\d{2,4}|FY\d{2,4}|quarter ended)\b`)
	reportRe = regexp.MustCompile(`(?i)\b(consolidated|standalone)\b`)

	labelIdx    = lineRe.SubexpIndex("label")
	currencyIdx = lineRe.SubexpIndex("currency")
	valueIdx    = lineRe.SubexpIndex("value")
	unitIdx     = lineRe.SubexpIndex("unit")
)

// Extraction is the result of scanning one text.
type Extraction struct {
	Metrics    map[string]float64
	Currency   string
	Period     string
	ReportType string
}

// Extractor is stateless and safe for concurrent use.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract matches every line once and keeps the first value seen per metric.
func (Extractor) Extract(text string) Extraction {
	out := Extraction{Metrics: map[string]float64{}}
	for _, line := range strings.Split(text, "\n") {
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, ok := Canonicalize(m[labelIdx])
		if !ok {
			continue
		}
		raw, err := strconv.ParseFloat(strings.ReplaceAll(m[valueIdx], ",", ""), 64)
		if err != nil {
			continue
		}
		if cur := m[currencyIdx]; cur != "" && out.Currency == "" {
			out.Currency = normalizeCurrency(cur)
		}
		if _, seen := out.Metrics[name]; seen {
			continue
		}
		value, _ := NormalizeValue(raw, m[unitIdx])
		out.Metrics[name] = value
	}
	if m := periodRe.FindStringSubmatch(text); m != nil {
		out.Period = m[1]
	}
	if m := reportRe.FindStringSubmatch(text); m != nil {
		out.ReportType = strings.ToLower(m[1])
	}
	return out
}

// Canonicalize maps a free-form label to a canonical metric name.
func Canonicalize(label string) (string, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(label)), " ")
	for _, a := range aliases {
		if strings.Contains(key, a.alias) {
			return a.canonical, true
		}
	}
	return "", false
}

func normalizeCurrency(raw string) string {
	switch strings.ToLower(raw) {
	case "rs", "rs.", "₹":
		return "INR"
	case "$":
		return "USD"
	case "€":
		return "EUR"
	default:
		return strings.ToUpper(raw)
	}
}
