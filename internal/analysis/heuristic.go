package analysis

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"sleuth/internal/types"
)

var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true, "co": true,
	"company": true, "llc": true, "llp": true, "ltd": true, "limited": true, "plc": true,
	"gmbh": true, "ag": true, "sa": true, "nv": true, "bv": true, "pte": true,
	"group": true, "holdings": true, "technologies": true, "labs": true, "partners": true,
}

// Capitalized words that open questions or commands rather than names.
var leadWords = map[string]bool{
	"what": true, "who": true, "whom": true, "whose": true, "which": true, "when": true,
	"where": true, "why": true, "how": true, "is": true, "are": true, "was": true,
	"does": true, "did": true, "do": true, "can": true, "should": true, "tell": true,
	"find": true, "research": true, "investigate": true, "check": true, "verify": true,
	"give": true, "show": true, "please": true, "the": true, "a": true, "an": true,
	"any": true, "has": true, "have": true, "i": true, "we": true, "and": true, "or": true,
	"ceo": true, "cfo": true, "cto": true, "us": true, "background": true, "summarize": true,
	"latest": true, "recent": true, "news": true, "look": true,
}

var domainKeywords = map[string][]string{
	"financial": {"revenue", "financial", "finances", "funding", "valuation", "earnings", "profit",
		"debt", "investor", "investors", "ipo", "income", "raised", "money", "worth", "sales"},
	"legal": {"lawsuit", "lawsuits", "legal", "litigation", "court", "regulatory", "sanction",
		"sanctions", "compliance", "fraud", "sued", "settlement", "fine", "investigation"},
	"osint": {"ceo", "founder", "founders", "executive", "executives", "leadership", "headquarters",
		"employees", "owner", "owners", "ownership", "background", "history", "who"},
	"news": {"news", "recent", "latest", "controversy", "controversies", "press", "reputation",
		"scandal", "coverage"},
}

// Heuristic analyzes query without a provider. It is deterministic.
func Heuristic(query string) types.Analysis {
	query = strings.TrimSpace(query)
	entities := extractEntities(query)
	domains := detectDomains(query)
	return types.Analysis{
		Query:      query,
		Entities:   entities,
		Domains:    domains,
		Complexity: estimate(entities, domains),
	}
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '?' || r == '!' || r == ';' || r == ':' || r == '"' || r == '(' || r == ')'
	})
}

func bare(w string) string {
	return strings.ToLower(strings.Trim(w, ".,'’"))
}

func capitalized(w string) bool {
	for _, r := range strings.TrimLeft(w, "\"'(") {
		return unicode.IsUpper(r)
	}
	return false
}

func extractEntities(query string) []types.Entity {
	ws := words(query)
	var runs [][]string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, cur)
			cur = nil
		}
	}
	for i, w := range ws {
		b := bare(w)
		switch {
		case b == "":
		case leadWords[b]:
			flush()
		case capitalized(w) || (len(cur) > 0 && (b == "&" || corporateSuffixes[b])):
			name := strings.TrimRight(w, ",.")
			name = strings.TrimSuffix(strings.TrimSuffix(name, "'s"), "’s")
			cur = append(cur, name)
			// "Acme, Inc." keeps going; any other comma or period ends the run.
			if strings.HasSuffix(w, ",") && (i+1 >= len(ws) || !corporateSuffixes[bare(ws[i+1])]) {
				flush()
			} else if strings.HasSuffix(w, ".") && len(b) > 1 && !corporateSuffixes[b] {
				flush()
			}
		default:
			flush()
		}
	}
	flush()

	var out []types.Entity
	seen := make(map[string]bool)
	for _, run := range runs {
		for len(run) > 0 && run[len(run)-1] == "&" {
			run = run[:len(run)-1]
		}
		if len(run) == 0 {
			continue
		}
		e := types.Entity{Name: strings.Join(run, " "), Type: classify(run)}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		if len(run) > 1 && corporateSuffixes[bare(run[len(run)-1])] {
			e.Aliases = []string{strings.Join(run[:len(run)-1], " ")}
		}
		e.Significance = types.SignificanceRelationship
		if len(out) == 0 {
			e.Significance = types.SignificancePrimary
		}
		out = append(out, e)
	}
	return out
}

func classify(run []string) types.EntityType {
	if corporateSuffixes[bare(run[len(run)-1])] {
		return types.EntityCompany
	}
	if len(run) >= 2 && len(run) <= 3 {
		for _, w := range run {
			if strings.ContainsFunc(w, unicode.IsDigit) || (len(w) > 2 && strings.ToUpper(w) == w) {
				return types.EntityCompany
			}
		}
		return types.EntityPerson
	}
	return types.EntityCompany
}

func detectDomains(query string) []string {
	present := make(map[string]bool)
	for _, w := range words(query) {
		present[bare(w)] = true
	}
	var out []string
	for _, d := range KnownDomains {
		for _, kw := range domainKeywords[d] {
			if present[kw] {
				out = append(out, d)
				break
			}
		}
	}
	if len(out) == 0 {
		out = []string{"financial", "legal"}
	}
	return out
}

func estimate(entities []types.Entity, domains []string) types.Complexity {
	c := types.Complexity{
		Factors: []string{
			fmt.Sprintf("%d entities", len(entities)),
			fmt.Sprintf("%d research domains", len(domains)),
		},
	}
	switch score := len(entities) + len(domains); {
	case score <= 2:
		c.Level = types.ComplexitySimple
		c.EstimatedDuration = 5 * time.Minute
	case score <= 4:
		c.Level = types.ComplexityModerate
		c.EstimatedDuration = 15 * time.Minute
	default:
		c.Level = types.ComplexityComplex
		c.EstimatedDuration = 30 * time.Minute
	}
	if len(entities) > 1 {
		c.ConfidenceChallenges = append(c.ConfidenceChallenges, "relationships between entities need corroboration")
	}
	if len(entities) == 0 {
		c.ConfidenceChallenges = append(c.ConfidenceChallenges, "no named subject")
	}
	for _, d := range domains {
		if d == "legal" {
			c.ConfidenceChallenges = append(c.ConfidenceChallenges, "court records may be incomplete")
		}
	}
	return c
}
