// Package claim parses finding claim values into comparable forms and
// decides whether two claims materially disagree.
package claim

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Kind classifies a parsed claim.
type Kind int

const (
	KindText Kind = iota
	KindNumeric
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindDate:
		return "date"
	}
	return "text"
}

// Value is a parsed claim. Dates are half-open intervals [From, To).
type Value struct {
	Kind   Kind
	Raw    string
	Text   string
	Number float64
	Unit   string
	From   time.Time
	To     time.Time
}

var (
	hedgeRe = regexp.MustCompile(`(?i)^(approximately|approx\.?|about|around|roughly|nearly|almost|over|under|more than|less than|some|~)\s*`)
	numRe   = regexp.MustCompile(`(?i)^(us\$|usd|\$|€|eur|£|gbp)?\s*(-?\d[\d,]*(?:\.\d+)?|-?\.\d+)\s*(k|thousand|m|mm|mn|million|b|bn|billion|t|tn|trillion)?\s*(%|percent|usd|dollars|eur|euros|gbp|pounds|employees|people|staff)?$`)
	rangeRe = regexp.MustCompile(`^(\d{4})\s*(?:-|–|to)\s*(\d{4})$`)
	yearRe  = regexp.MustCompile(`^\d{4}$`)
)

var multipliers = map[string]float64{
	"k": 1e3, "thousand": 1e3,
	"m": 1e6, "mm": 1e6, "mn": 1e6, "million": 1e6,
	"b": 1e9, "bn": 1e9, "billion": 1e9,
	"t": 1e12, "tn": 1e12, "trillion": 1e12,
}

var unitAliases = map[string]string{
	"$": "USD", "us$": "USD", "usd": "USD", "dollars": "USD",
	"€": "EUR", "eur": "EUR", "euros": "EUR",
	"£": "GBP", "gbp": "GBP", "pounds": "GBP",
	"%": "%", "percent": "%",
}

var dateLayouts = []struct {
	layout string
	span   func(time.Time) time.Time
}{
	{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"January 2, 2006", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"Jan 2, 2006", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"2 January 2006", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"January 2006", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"Jan 2006", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
}

// dateAttributes are attribute names whose bare four-digit values are years.
var dateAttributes = []string{"founded", "incorporated", "established", "date", "year", "dissolved", "born", "died"}

// IsDateAttribute reports whether attribute carries date semantics.
func IsDateAttribute(attribute string) bool {
	a := strings.ToLower(attribute)
	if strings.HasSuffix(a, "_date") || strings.HasSuffix(a, "_at") || strings.HasSuffix(a, "_year") {
		return true
	}
	for _, d := range dateAttributes {
		if a == d {
			return true
		}
	}
	return false
}

// Parse parses raw without attribute context. Bare years are numbers.
func Parse(raw string) Value {
	return ParseFor("", raw)
}

// ParseFor parses raw for the given attribute.
func ParseFor(attribute, raw string) Value {
	v := Value{Kind: KindText, Raw: raw, Text: NormalizeText(raw)}
	s := strings.TrimSpace(raw)
	if s == "" {
		return v
	}

	if from, to, ok := parseDate(s, IsDateAttribute(attribute)); ok {
		v.Kind, v.From, v.To = KindDate, from, to
		return v
	}

	stripped := hedgeRe.ReplaceAllString(s, "")
	if m := numRe.FindStringSubmatch(stripped); m != nil {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err == nil {
			if mult, ok := multipliers[strings.ToLower(m[3])]; ok {
				n *= mult
			}
			v.Kind, v.Number = KindNumeric, n
			v.Unit = unitAliases[strings.ToLower(m[1])]
			if u := unitAliases[strings.ToLower(m[4])]; u != "" {
				v.Unit = u
			}
		}
	}
	return v
}

func parseDate(s string, yearsAreDates bool) (time.Time, time.Time, bool) {
	if m := rangeRe.FindStringSubmatch(s); m != nil {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		if from <= to {
			return yearStart(from), yearStart(to + 1), true
		}
	}
	if yearsAreDates && yearRe.MatchString(s) {
		y, _ := strconv.Atoi(s)
		return yearStart(y), yearStart(y + 1), true
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t, l.span(t), true
		}
	}
	return time.Time{}, time.Time{}, false
}

func yearStart(y int) time.Time {
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// NormalizeText lowercases, replaces punctuation with spaces and collapses
// whitespace.
func NormalizeText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// Diverges reports whether a and b materially disagree. Numbers diverge
// when their relative difference exceeds tolerance, dates when their
// intervals do not overlap, and everything else on normalized inequality.
// Numbers in different units always diverge. The relation is symmetric.
func Diverges(a, b Value, tolerance float64) bool {
	switch {
	case a.Kind == KindNumeric && b.Kind == KindNumeric:
		if !unitsCompatible(a.Unit, b.Unit) {
			return true
		}
		return RelativeDifference(a.Number, b.Number) > tolerance
	case a.Kind == KindDate && b.Kind == KindDate:
		return !a.To.After(b.From) || !b.To.After(a.From)
	}
	return a.Text != b.Text
}

// RelativeDifference returns |a-b| / max(|a|,|b|), or 0 when both are 0.
func RelativeDifference(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

func unitsCompatible(a, b string) bool {
	return a == "" || b == "" || a == b
}
