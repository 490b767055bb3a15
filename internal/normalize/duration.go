package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	yearsRe  = regexp.MustCompile(`(\d+)\s*\+?\s*(?:year|yr)`)
	monthsRe = regexp.MustCompile(`(\d+)\s*\+?\s*(?:month|mo)`)
	numberRe = regexp.MustCompile(`(\d+)`)
)

// DurationToDate parses a free-form duration ("10 years", "36+ months",
// "2yrs in business") and returns the estimated start date as YYYY-MM-DD,
// counted back from ref. A bare number above 12 is read as months,
// otherwise years. ok=false when nothing numeric can be extracted.
func DurationToDate(s string, ref time.Time) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if IsPlaceholder(s) {
		return "", false
	}

	if m := yearsRe.FindStringSubmatch(s); m != nil {
		years, _ := strconv.Atoi(m[1])
		return ref.AddDate(0, 0, -years*365).Format("2006-01-02"), true
	}
	if m := monthsRe.FindStringSubmatch(s); m != nil {
		months, _ := strconv.Atoi(m[1])
		return ref.AddDate(0, 0, -months*30).Format("2006-01-02"), true
	}
	if m := numberRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 12 {
			return ref.AddDate(0, 0, -n*30).Format("2006-01-02"), true
		}
		return ref.AddDate(0, 0, -n*365).Format("2006-01-02"), true
	}
	return "", false
}

// TimeInBusinessToDate converts a time-in-business value to an estimated
// business start date.
//
// Heuristic, in order:
//  1. Values containing "-" or "/" are treated as literal dates.
//  2. A plain number in [0,100] is read as years in business and becomes
//     January 1st of (year of ref minus that many years).
//  3. Anything else falls through to date normalization, then to duration
//     parsing as a last resort.
//
// The numeric branch is inherently ambiguous for short numeric strings; it
// is a documented heuristic, not a guaranteed derivation.
func TimeInBusinessToDate(s string, ref time.Time) (string, bool) {
	s = strings.TrimSpace(s)
	if IsPlaceholder(s) {
		return "", false
	}

	if strings.ContainsAny(s, "-/") {
		return Normalize(s, "date")
	}

	if years, err := strconv.ParseFloat(s, 64); err == nil && years >= 0 && years <= 100 {
		start := ref.Year() - int(years)
		return time.Date(start, time.January, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), true
	}

	if out, ok := Normalize(s, "date"); ok {
		return out, true
	}
	return DurationToDate(s, ref)
}
