package monitor

import "strings"

// Threshold is the share of suggested tokens, in percent, that must appear
// in the page body for a recommendation to count as implemented.
const Threshold = 70

// Match is the token-overlap score of one recommendation against a body.
type Match struct {
	Matched int
	Total   int
}

// Implemented reports whether the overlap reaches Threshold. A suggestion
// without tokens is trivially implemented.
func (m Match) Implemented() bool {
	if m.Total == 0 {
		return true
	}
	return m.Matched*100 >= m.Total*Threshold
}

// Ratio returns Matched/Total, or 1 for an empty suggestion.
func (m Match) Ratio() float64 {
	if m.Total == 0 {
		return 1
	}
	return float64(m.Matched) / float64(m.Total)
}

// Score tokenizes suggested and counts how many tokens occur as substrings
// of body. Both sides are lowercased and whitespace-collapsed first;
// duplicate tokens count separately.
func Score(body, suggested string) Match {
	haystack := normalize(body)
	tokens := strings.Fields(normalize(suggested))

	m := Match{Total: len(tokens)}
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			m.Matched++
		}
	}
	return m
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
