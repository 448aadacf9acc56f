package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExtractJSON returns the first balanced JSON object in a response that may
// carry markdown fences or prose around it.
func ExtractJSON(response string) (string, error) {
	if obj, ok := extractBalancedObject(response); ok && json.Valid([]byte(obj)) {
		return obj, nil
	}
	trimmed := strings.TrimSpace(response)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// optionalFloat accepts JSON numbers and numeric strings; anything else stays unset.
type optionalFloat struct {
	Value float64
	Valid bool
}

func (f *optionalFloat) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return nil
	}
	f.Value, f.Valid = v, true
	return nil
}

// metricsPayload is the shape the validator prompt asks for.
type metricsPayload struct {
	Revenue   optionalFloat `json:"revenue"`
	NetProfit optionalFloat `json:"net_profit"`
	EBITDA    optionalFloat `json:"ebitda"`
	EPS       optionalFloat `json:"eps"`
}

func (p metricsPayload) metrics() map[string]float64 {
	out := map[string]float64{}
	for name, f := range map[string]optionalFloat{
		"revenue":    p.Revenue,
		"net_profit": p.NetProfit,
		"ebitda":     p.EBITDA,
		"eps":        p.EPS,
	} {
		if f.Valid {
			out[name] = f.Value
		}
	}
	return out
}

// parseMetrics decodes a response into metrics. Malformed output yields an empty map.
func parseMetrics(content string) map[string]float64 {
	obj, err := ExtractJSON(content)
	if err != nil {
		return map[string]float64{}
	}
	var payload metricsPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return map[string]float64{}
	}
	return payload.metrics()
}
