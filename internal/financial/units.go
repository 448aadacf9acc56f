package financial

import "strings"

var unitMultipliers = map[string]float64{
	"cr":      1e7,
	"crore":   1e7,
	"mn":      1e6,
	"million": 1e6,
	"bn":      1e9,
	"billion": 1e9,
}

// NormalizeValue scales raw by its unit word and returns the lowercased unit.
// Unknown or empty units leave the value unscaled.
func NormalizeValue(raw float64, unit string) (float64, string) {
	key := strings.ToLower(strings.TrimSpace(unit))
	if key == "" {
		return raw, ""
	}
	multiplier, ok := unitMultipliers[key]
	if !ok {
		multiplier = 1
	}
	return raw * multiplier, key
}
