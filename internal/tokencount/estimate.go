// Package tokencount provides the request token estimate used by the
// count_tokens endpoint and provisional stream usage, plus usage extraction
// from heterogeneous upstream payloads.
package tokencount

import (
	"unicode"
)

// textUnits weighs one string: Latin/ASCII runes count 1 unit, everything
// else 4. The heuristic is an approximation contract, not a tokenizer; it
// only has to be deterministic and monotonic.
func textUnits(s string) int {
	units := 0
	for _, r := range s {
		if r <= unicode.MaxASCII || unicode.Is(unicode.Latin, r) {
			units++
		} else {
			units += 4
		}
	}
	return units
}

// Estimate sums units over the system text, every message text and the
// serialized tool declarations, then converts units to tokens at 4 units
// per token, rounding up.
func Estimate(system string, texts []string, tools string) int {
	units := textUnits(system) + textUnits(tools)
	for _, t := range texts {
		units += textUnits(t)
	}
	return (units + 3) / 4
}
