package router

import "strings"

// Keyword vocabularies for prompt analysis. Matching is substring-based on
// the lowercased prompt, so "analyze" also catches "analyzing".
var (
	complexKeywords = []string{
		"analyze", "analysis", "design", "architect", "algorithm",
		"implement", "refactor", "optimize", "code", "program",
		"prove", "derive", "evaluate", "research", "step by step",
	}

	capabilityKeywords = map[string][]string{
		"coding":      {"code", "program", "script", "function", "bug", "compile"},
		"math":        {"calculate", "math", "formula", "equation", "integral"},
		"creative":    {"story", "poem", "creative", "fiction", "lyrics"},
		"translation": {"translate", "translation"},
		"analysis":    {"analyze", "analysis", "evaluate", "research", "compare"},
		"reasoning":   {"reason", "logic", "deduce", "prove", "why"},
	}
)

// complexityLengthCap is the prompt length at which the length term
// saturates.
const complexityLengthCap = 2000

// Complexity scores a prompt in [0, 1]. Three signals contribute: normalized
// capped length, complexity vocabulary hits, and structural density
// (questions, clause separators, line breaks).
func Complexity(prompt string) float64 {
	if prompt == "" {
		return 0
	}
	lower := strings.ToLower(prompt)

	length := float64(len(prompt)) / complexityLengthCap
	if length > 1 {
		length = 1
	}

	hits := 0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	keyword := float64(hits) / 3
	if keyword > 1 {
		keyword = 1
	}

	structure := float64(strings.Count(prompt, "?")+
		strings.Count(prompt, ";")+
		strings.Count(prompt, "\n")) / 6
	if structure > 1 {
		structure = 1
	}

	score := 0.5*length + 0.3*keyword + 0.2*structure
	if score > 1 {
		score = 1
	}
	return score
}

// needs returns the capability tags the prompt appears to require.
func needs(prompt string) []string {
	lower := strings.ToLower(prompt)
	var out []string
	for tag, kws := range capabilityKeywords {
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				out = append(out, tag)
				break
			}
		}
	}
	return out
}

// suitability is the fraction of required capability tags the model carries,
// 1.0 when the prompt requires nothing specific.
func suitability(capabilities []string, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	have := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		have[c] = true
	}
	matched := 0
	for _, r := range required {
		if have[r] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
