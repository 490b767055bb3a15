// Package normalize converts raw cell values into canonical strings keyed by
// a schema type tag. Every rule is pure: same input, same output, no state.
//
// A value that fails its type's expectations becomes null (empty, ok=false)
// rather than an error; callers count nulls, they do not branch on them.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

// placeholders are inputs treated as "no value" regardless of type tag.
// Comparison is case-insensitive after trimming.
var placeholders = map[string]struct{}{
	"":            {},
	"na":          {},
	"n/a":         {},
	"none":        {},
	"null":        {},
	"nil":         {},
	"unknown":     {},
	"unspecified": {},
	"tbd":         {},
	"nan":         {},
}

// Func is one normalization rule. ok=false means the value is null.
type Func func(s string) (string, bool)

// registry maps type tags to their rules. Resolved once at init; unknown
// tags fall back to trim-only normalization.
var registry = map[string]Func{
	"string":      normString,
	"phone":       normPhone,
	"phone_clean": normPhone,
	"zip":         normZip,
	"state":       normState,
	"email":       normEmail,
	"id_number":   normDigits,
	"ssn":         normDigits,
	"date":        normDate,
	"datetime":    normDatetime,
	"sic_code":    normCode,
	"soc_code":    normCode,
	"person_name": normString,
	"address":     normString,
	"currency":    normCurrency,
	"percent":     normString,
}

// IsPlaceholder reports whether the trimmed value denotes an absent value.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Normalize applies the rule for typeTag to value. The second return is
// false when the value is null: empty input, a placeholder, or a value the
// type rule rejects.
func Normalize(value, typeTag string) (string, bool) {
	if IsPlaceholder(value) {
		return "", false
	}
	fn, ok := registry[typeTag]
	if !ok {
		fn = normString
	}
	return fn(value)
}

// DerivePhoneClean is the phone_raw -> phone_clean derivation: digits only.
func DerivePhoneClean(raw string) (string, bool) {
	return Normalize(raw, "phone")
}

// DeriveSocFromSic maps an SIC code to an SOC code. The mapping table is a
// pass-through for now.
func DeriveSocFromSic(sic string) (string, bool) {
	return Normalize(sic, "sic_code")
}

func normString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normPhone(s string) (string, bool) {
	d := digitsOf(s)
	if d == "" {
		return "", false
	}
	return d, true
}

func normZip(s string) (string, bool) {
	d := digitsOf(s)
	if d == "" {
		return "", false
	}
	if len(d) > 5 {
		d = d[:5]
	}
	return d, true
}

// normState uppercases and passes through. Two-letter codes are the
// expected case but longer strings are not rejected here.
func normState(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	return s, true
}

func normEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") || !strings.Contains(s, ".") {
		return "", false
	}
	return s, true
}

func normDigits(s string) (string, bool) {
	d := digitsOf(s)
	if d == "" {
		return "", false
	}
	return d, true
}

// normCode strips to digits but keeps the trimmed original when no digits
// survive; industry code files occasionally carry letter suffixes.
func normCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if d := digitsOf(s); d != "" {
		return d, true
	}
	return s, true
}

// normCurrency strips currency punctuation ($ , and surrounding space) and
// keeps the numeric text, sign and decimal point included.
func normCurrency(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateLayouts are tried in order; the first parse wins.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"02/01/2006",
	"2006/01/02",
	"01/02/06",
	"20060102",
}

func normDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	// Already canonical but out of range for the parser (e.g. 0000-01-01):
	// pass through verbatim.
	if isoDateRe.MatchString(s) {
		return s, true
	}
	return "", false
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
}

func normDatetime(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04:05"), true
		}
	}
	return "", false
}
