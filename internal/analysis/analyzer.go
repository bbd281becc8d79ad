// Package analysis turns a research query into entities, research domains
// and a complexity estimate. A Generator is asked first; the heuristic
// analyzer covers unparseable replies and runs without a provider.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"sleuth/internal/logging"
	"sleuth/internal/provider"
	"sleuth/internal/types"
)

// Domains understood by the default plan library.
var KnownDomains = []string{"financial", "legal", "osint", "news"}

// Analyzer produces query analyses.
type Analyzer struct {
	gen provider.Generator
}

// New creates an Analyzer. gen may be nil.
func New(gen provider.Generator) *Analyzer {
	return &Analyzer{gen: gen}
}

const promptTemplate = `Analyze this due diligence research query: %q

Return only JSON with this shape:
{
  "entities": [{"name": "...", "type": "person|company|place|custom", "aliases": ["..."], "significance": "primary_subject|relationship_target|mentioned"}],
  "domains": ["financial", "legal", "osint", "news"],
  "complexity": {"level": "simple|moderate|complex", "factors": ["..."], "estimated_minutes": 15, "confidence_challenges": ["..."]}
}`

type llmEntity struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Aliases      []string `json:"aliases"`
	Significance string   `json:"significance"`
}

type llmAnalysis struct {
	Entities   []llmEntity `json:"entities"`
	Domains    []string    `json:"domains"`
	Complexity struct {
		Level                string   `json:"level"`
		Factors              []string `json:"factors"`
		EstimatedMinutes     float64  `json:"estimated_minutes"`
		ConfidenceChallenges []string `json:"confidence_challenges"`
	} `json:"complexity"`
}

// Analyze analyzes query. A provider failure yields a degraded analysis
// rather than an error; only context cancellation is returned.
func (a *Analyzer) Analyze(ctx context.Context, query string) (types.Analysis, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "Analyze")
	defer timer.Stop()

	query = strings.TrimSpace(query)
	if a.gen == nil {
		return Heuristic(query), nil
	}

	resp, err := a.gen.Generate(ctx, fmt.Sprintf(promptTemplate, query))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Analysis{}, ctxErr
		}
		logging.AnalysisWarn("Analyzer provider failed, returning degraded analysis: %v", err)
		return Degraded(query), nil
	}

	result, err := parse(query, resp)
	if err != nil {
		logging.AnalysisWarn("Analyzer reply unusable, falling back to heuristics: %v", err)
		return Heuristic(query), nil
	}
	logging.Analysis("Analyzed %q: %d entities, domains=%v, complexity=%s",
		query, len(result.Entities), result.Domains, result.Complexity.Level)
	return result, nil
}

// Degraded is the analysis used when no provider answer is available.
func Degraded(query string) types.Analysis {
	return types.Analysis{
		Query:      query,
		Complexity: types.Complexity{Level: types.ComplexityUnknown},
		Degraded:   true,
	}
}

func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)
	if start, end := strings.Index(resp, "{"), strings.LastIndex(resp, "}"); start >= 0 && end > start {
		resp = resp[start : end+1]
	}
	return resp
}

func parse(query, resp string) (types.Analysis, error) {
	var raw llmAnalysis
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp)), &raw); err != nil {
		return types.Analysis{}, fmt.Errorf("failed to parse analysis: %w", err)
	}

	out := types.Analysis{Query: query}
	seen := make(map[string]bool)
	for _, e := range raw.Entities {
		ent := types.Entity{
			Name:         strings.TrimSpace(e.Name),
			Type:         entityType(e.Type),
			Significance: significance(e.Significance),
		}
		if ent.Name == "" || seen[ent.Key()] {
			continue
		}
		seen[ent.Key()] = true
		for _, al := range e.Aliases {
			if al = strings.TrimSpace(al); al != "" && types.NormalizeName(al) != types.NormalizeName(ent.Name) {
				ent.Aliases = append(ent.Aliases, al)
			}
		}
		out.Entities = append(out.Entities, ent)
	}
	if len(out.Entities) == 0 {
		return types.Analysis{}, fmt.Errorf("analysis names no entities")
	}

	for _, d := range raw.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if slices.Contains(KnownDomains, d) && !slices.Contains(out.Domains, d) {
			out.Domains = append(out.Domains, d)
		}
	}

	c := raw.Complexity
	out.Complexity = types.Complexity{
		Level:                complexityLevel(c.Level),
		Factors:              c.Factors,
		EstimatedDuration:    time.Duration(c.EstimatedMinutes * float64(time.Minute)),
		ConfidenceChallenges: c.ConfidenceChallenges,
	}
	if out.Complexity.Level == types.ComplexityUnknown {
		out.Complexity = estimate(out.Entities, out.Domains)
	}
	return out, nil
}

func entityType(s string) types.EntityType {
	switch t := types.EntityType(strings.ToLower(strings.TrimSpace(s))); t {
	case types.EntityPerson, types.EntityCompany, types.EntityPlace:
		return t
	case "organization", "organisation", "business", "corporation":
		return types.EntityCompany
	case "location", "country", "city":
		return types.EntityPlace
	}
	return types.EntityCustom
}

func significance(s string) types.Significance {
	switch v := types.Significance(strings.ToLower(strings.TrimSpace(s))); v {
	case types.SignificancePrimary, types.SignificanceRelationship, types.SignificanceMentioned:
		return v
	case "primary":
		return types.SignificancePrimary
	}
	return types.SignificanceMentioned
}

func complexityLevel(s string) types.ComplexityLevel {
	switch l := types.ComplexityLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case types.ComplexitySimple, types.ComplexityModerate, types.ComplexityComplex:
		return l
	}
	return types.ComplexityUnknown
}
