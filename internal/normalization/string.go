package normalization

import (
	"strings"
)

// NormalizeTopic folds a struggling-topic label to a canonical map key so
// "Fractions" and "fractions " count against the same bucket. Idempotent.
func NormalizeTopic(input string) string {
	folded := strings.ToLower(strings.TrimSpace(input))
	return strings.Join(strings.Fields(folded), " ")
}

// NormalizeTopics maps and drops empties, preserving first-seen order.
func NormalizeTopics(inputs []string) []string {
	out := make([]string, 0, len(inputs))
	seen := map[string]bool{}
	for _, raw := range inputs {
		t := NormalizeTopic(raw)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
