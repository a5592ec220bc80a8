package library

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// foldName returns the key two names are compared by: NFC-normalized,
// case-folded, with runs of whitespace collapsed.
func foldName(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// uniqueTags trims tags and drops empty and repeated (case-insensitive) ones,
// keeping the first spelling and the original order.
func uniqueTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := foldName(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// escapeLike escapes the LIKE wildcards in s for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
