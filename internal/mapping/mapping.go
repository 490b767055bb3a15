// Package mapping resolves raw input headers to canonical schema fields.
//
// Two interchangeable strategies implement the same contract: a template
// mapper driven by an explicit two-column table, and a fuzzy mapper driven
// by a canonical-field to known-variants index plus optional combination
// and computation rule sets. The strategy is selected once at setup and is
// immutable afterwards.
package mapping

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Pair is one declared 1:1 header-to-field mapping.
type Pair struct {
	Incoming string
	Field    string
}

// Combination produces a target field by joining source columns with a
// separator. Sources preserve declared left-to-right order.
type Combination struct {
	Target    string
	Sources   []string
	Separator string
}

// Computation produces a target field by applying a named operation to a
// single source column. Fuzzy mode only.
type Computation struct {
	Target string
	Source string
	Op     string
}

// HeaderMap is the result of mapping one header set.
//
// Direct holds raw header -> canonical field for plain 1:1 matches.
// Consumed holds raw headers eaten by a combination or computation rule,
// keyed to the target field that consumed them; consumed headers are
// excluded from the unmapped set even though they are not Direct.
// Combinations and Computations list the rules that actually fired for
// this header set.
type HeaderMap struct {
	Direct       map[string]string
	Consumed     map[string]string
	Combinations []Combination
	Computations []Computation
}

// Unmapped returns the headers that neither mapped nor were consumed, in
// input order. These are the appendix candidates.
func (hm *HeaderMap) Unmapped(rawHeaders []string) []string {
	var out []string
	for _, h := range rawHeaders {
		if _, ok := hm.Direct[h]; ok {
			continue
		}
		if _, ok := hm.Consumed[h]; ok {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Strategy is the mapping contract shared by the template and fuzzy
// variants.
//
// MapHeaders resolves a header set. DirectPairs, Combinations and
// Computations expose the declared rules for pre-run validation; for the
// template variant Computations is always empty.
type Strategy interface {
	MapHeaders(rawHeaders []string) *HeaderMap
	DirectPairs() []Pair
	Combinations() []Combination
	Computations() []Computation
}

var (
	symbolRunRe    = regexp.MustCompile(`[_\-./\\]+`)
	nonAlnumRe     = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRunRe     = regexp.MustCompile(`\s+`)
	foldTransform  = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// NormalizeHeader reduces a raw header to its matching form: diacritics
// folded, lowercased, separator punctuation collapsed to spaces, remaining
// symbols stripped, and finally all whitespace removed. Idempotent.
func NormalizeHeader(header string) string {
	if header == "" {
		return ""
	}
	if folded, _, err := transform.String(foldTransform, header); err == nil {
		header = folded
	}
	s := strings.ToLower(strings.TrimSpace(header))
	s = symbolRunRe.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.ReplaceAll(s, " ", "")
}
