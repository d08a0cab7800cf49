package articulation

import "encoding/json"

// ExtractJSON scans s for top-level JSON object candidates and returns the
// first one that unmarshals successfully into v. Providers frequently wrap
// a JSON envelope in prose ("Sure, here's the category: {...}"); this is
// the one parsing path every structured-output consumer in the core goes
// through instead of hand-rolling its own brace scanner.
func ExtractJSON(s string, v any) bool {
	for _, candidate := range findJSONCandidates(s) {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return true
		}
	}
	return false
}
