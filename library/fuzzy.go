package library

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Match is an existing name scored against a candidate, 0 to 100.
type Match struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// MatchOptions tunes fuzzy lookups. Names scoring at least Threshold are
// reported, at most Limit of them.
type MatchOptions struct {
	Threshold   int
	Limit       int
	ScopeToType bool
}

// DefaultMatchOptions are used when the caller does not configure any.
var DefaultMatchOptions = MatchOptions{Threshold: 75, Limit: 3}

// fuzzyKey drops the type tag and punctuation, folds case and sorts the
// words, so "[BOARD] Ticket to Ride" and "ride ticket to" compare equal.
func fuzzyKey(s string) string {
	s = foldName(stripTag(s))
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(words)
	return strings.Join(words, " ")
}

// ratio is the normalized edit similarity of two strings.
func ratio(a, b string) int {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

// partialRatio slides the shorter string over the longer one and keeps the
// best window score.
func partialRatio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		if len(rb) == 0 {
			return 100
		}
		return 0
	}
	short := string(ra)
	best := 0
	for i := 0; i+len(ra) <= len(rb); i++ {
		if s := ratio(short, string(rb[i:i+len(ra)])); s > best {
			best = s
			if best == 100 {
				break
			}
		}
	}
	return best
}

// Similarity scores two names, ignoring type tags, case, punctuation and word
// order.
func Similarity(a, b string) int {
	return partialRatio(fuzzyKey(a), fuzzyKey(b))
}

// rankMatches scores every name against candidate and keeps those at or above
// the threshold. Ties are broken by whole-string similarity, then by name.
func rankMatches(candidate string, names []string, opts MatchOptions) []Match {
	key := fuzzyKey(candidate)
	type scored struct {
		Match
		full int
	}
	var hits []scored
	for _, name := range names {
		other := fuzzyKey(name)
		s := partialRatio(key, other)
		if s < opts.Threshold {
			continue
		}
		hits = append(hits, scored{Match: Match{Name: name, Score: s}, full: ratio(key, other)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].full != hits[j].full {
			return hits[i].full > hits[j].full
		}
		return hits[i].Name < hits[j].Name
	})
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.Match
	}
	return out
}
