package executor

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Extracted is one attribute claim found in a document.
type Extracted struct {
	Attribute string
	Claim     string
}

const money = `(?:US\$|\$|€|£)\s?\d[\d,]*(?:\.\d+)?(?:\s*(?:k|thousand|mm|mn|m|million|bn|b|billion|tn|t|trillion)\b)?|\d[\d,]*(?:\.\d+)?\s*(?:thousand|million|billion|trillion)(?:\s*(?:dollars|usd|euros|pounds))?`

const month = `(?:January|February|March|April|May|June|July|August|September|October|November|December)`

type extractor struct {
	attribute string
	patterns  []*regexp.Regexp
	claim     func(m []string) string
}

func group(i int) func([]string) string {
	return func(m []string) string { return strings.TrimSpace(m[i]) }
}

func constant(s string) func([]string) string {
	return func([]string) string { return s }
}

var extractors = []extractor{
	{
		attribute: "revenue",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:annual )?revenues?\b[^.$€£\d]{0,40}?(` + money + `)`)},
		claim:     group(1),
	},
	{
		attribute: "net_income",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\bnet (income|loss|profit)\b[^.$€£\d]{0,30}?(` + money + `)`)},
		claim: func(m []string) string {
			if strings.EqualFold(m[1], "loss") {
				return "-" + strings.TrimSpace(m[2])
			}
			return strings.TrimSpace(m[2])
		},
	},
	{
		attribute: "funding",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\braised\b[^.$€£\d]{0,25}?(` + money + `)`)},
		claim:     group(1),
	},
	{
		attribute: "valuation",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\bvalu(?:ed|ation)\b[^.$€£\d]{0,25}?(` + money + `)`)},
		claim:     group(1),
	},
	{
		attribute: "employees",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:employs|workforce of|headcount of|staff of)\s+(?:about |approximately |around |over |nearly )?(\d[\d,]*)`),
			regexp.MustCompile(`(?i)\b(\d[\d,]*)\s+(?:full-time\s+)?(?:employees|staff members|workers)\b`),
		},
		claim: group(1),
	},
	{
		attribute: "founded",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:[Ff]ounded|[Ee]stablished|[Ii]ncorporated)(?: in| on)?\s+(` + month + `\s+\d{1,2},\s+\d{4}|` + month + `\s+\d{4}|\d{4}-\d{2}-\d{2}|\d{4})\b`),
		},
		claim: group(1),
	},
	{
		attribute: "headquarters",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:[Hh]eadquartered|[Hh]eadquarters|[Bb]ased)\s+(?:is\s+)?in\s+([A-Z][\w'.-]*(?:(?:,\s*|\s+)[A-Z][\w'.-]*){0,3})`),
		},
		claim: func(m []string) string { return strings.TrimRight(strings.TrimSpace(m[1]), ".,") },
	},
	{
		attribute: "ceo",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:CEO|[Cc]hief [Ee]xecutive(?: [Oo]fficer)?)[,:]?\s+([A-Z][a-z]+(?:\s+[A-Z]\.)?(?:\s+[A-Z][a-z'-]+)+)`),
			regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z]\.)?(?:\s+[A-Z][a-z'-]+)+),?\s+(?:the\s+)?(?:company's\s+)?(?:CEO|[Cc]hief [Ee]xecutive)\b`),
		},
		claim: group(1),
	},
	{
		attribute: "lawsuit",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:sued|lawsuit|class action|litigation|indicted)\b`)},
		claim:     constant("litigation reported"),
	},
	{
		attribute: "status",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\bfiled for (?:chapter \d+ )?bankruptcy\b`)},
		claim:     constant("bankrupt"),
	},
	{
		attribute: "status",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:was|been) acquired by\b`)},
		claim:     constant("acquired"),
	},
	{
		attribute: "status",
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:was|been) dissolved\b`)},
		claim:     constant("dissolved"),
	},
}

// Extract returns at most one claim per attribute, restricted to wanted
// when it is non-empty. Attribute order follows the extractor table.
func Extract(text string, wanted []string) []Extracted {
	allow := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		allow[strings.ToLower(w)] = true
	}
	seen := make(map[string]bool)
	var out []Extracted
	for _, ex := range extractors {
		if seen[ex.attribute] || (len(allow) > 0 && !allow[ex.attribute]) {
			continue
		}
		for _, re := range ex.patterns {
			if m := re.FindStringSubmatch(text); m != nil {
				if c := ex.claim(m); c != "" {
					out = append(out, Extracted{Attribute: ex.attribute, Claim: c})
					seen[ex.attribute] = true
				}
				break
			}
		}
	}
	return out
}

// StripMarkup returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are dropped.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isHidden(name) {
				skip++
			} else {
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHidden(name) && skip > 0 {
				skip--
			} else {
				sb.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isHidden(tag []byte) bool {
	t := string(tag)
	return t == "script" || t == "style" || t == "noscript"
}
