// Package types holds the records shared across the research pipeline:
// entities, findings, conflicts, confidence scores and query analyses.
package types

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// EntityType classifies an investigated entity.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityCompany EntityType = "company"
	EntityPlace   EntityType = "place"
	EntityCustom  EntityType = "custom"
)

// Significance marks how central an entity is to the query.
type Significance string

const (
	SignificancePrimary      Significance = "primary_subject"
	SignificanceRelationship Significance = "relationship_target"
	SignificanceMentioned    Significance = "mentioned"
)

// Entity is a subject of investigation. Identity is (name, type) after
// normalization and alias resolution.
type Entity struct {
	Name         string       `json:"name"`
	Type         EntityType   `json:"type"`
	Aliases      []string     `json:"aliases,omitempty"`
	Significance Significance `json:"significance"`
}

// Key returns the normalized identity of the entity.
func (e Entity) Key() string {
	return NormalizeName(e.Name) + "|" + string(e.Type)
}

// IsSignificant reports whether the entity counts toward aggregate confidence.
func (e Entity) IsSignificant() bool {
	return e.Significance == SignificancePrimary || e.Significance == SignificanceRelationship
}

// NormalizeName lowercases, trims and collapses internal whitespace.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".,;:")
	return strings.Join(strings.Fields(s), " ")
}

// Resolver maps entity names and aliases onto a canonical subject key.
// The key is the normalized name, qualified with the type when entities of
// different types share that name.
type Resolver struct {
	canon map[string]map[EntityType]string
}

// NewResolver indexes the names and aliases of entities.
func NewResolver(entities []Entity) *Resolver {
	kinds := make(map[string]map[EntityType]bool)
	for _, e := range entities {
		if name := NormalizeName(e.Name); name != "" {
			if kinds[name] == nil {
				kinds[name] = make(map[EntityType]bool)
			}
			kinds[name][e.Type] = true
		}
	}

	r := &Resolver{canon: make(map[string]map[EntityType]string)}
	for _, e := range entities {
		name := NormalizeName(e.Name)
		if name == "" {
			continue
		}
		key := name
		if len(kinds[name]) > 1 {
			key = qualified(name, e.Type)
		}
		r.add(name, e.Type, key)
		for _, alias := range e.Aliases {
			if a := NormalizeName(alias); a != "" {
				r.add(a, e.Type, key)
			}
		}
	}
	return r
}

func (r *Resolver) add(name string, typ EntityType, key string) {
	if r.canon[name] == nil {
		r.canon[name] = make(map[EntityType]string)
	}
	if _, ok := r.canon[name][typ]; !ok {
		r.canon[name][typ] = key
	}
}

func qualified(name string, typ EntityType) string {
	if typ == "" {
		return name
	}
	return name + " (" + string(typ) + ")"
}

// Canonical returns the canonical subject key for a name of the given type.
// An empty type matches any entity with that name as long as only one
// does; an ambiguous untyped name stays unqualified. Unknown names
// normalize to themselves. A nil Resolver only normalizes.
func (r *Resolver) Canonical(name string, typ EntityType) string {
	n := NormalizeName(name)
	if r == nil {
		return n
	}
	byType, ok := r.canon[n]
	if !ok {
		return n
	}
	if typ != "" {
		if c, ok := byType[typ]; ok {
			return c
		}
	}
	if len(byType) == 1 {
		for _, c := range byType {
			return c
		}
	}
	if typ != "" {
		return qualified(n, typ)
	}
	return n
}

// Finding is a single sourced claim about an entity attribute. Findings are
// never modified after creation.
type Finding struct {
	ID                string     `json:"id"`
	SourceURL         string     `json:"source_url"`
	Subject           string     `json:"subject"`
	SubjectType       EntityType `json:"subject_type,omitempty"`
	Attribute         string     `json:"attribute"`
	Claim             string     `json:"claim"`
	PublishedDate     *time.Time `json:"published_date,omitempty"`
	SourceCredibility float64    `json:"source_credibility"`
	RelevanceScore    float64    `json:"relevance_score"`
	ProducingNodeID   string     `json:"producing_node_id"`
	Verification      bool       `json:"verification,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// Validate checks field ranges.
func (f Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding has no id")
	}
	if f.Subject == "" || f.Attribute == "" {
		return fmt.Errorf("finding %s has no subject/attribute", f.ID)
	}
	if f.SourceCredibility < 0 || f.SourceCredibility > 1 {
		return fmt.Errorf("finding %s credibility %.3f out of range", f.ID, f.SourceCredibility)
	}
	if f.RelevanceScore < 0 || f.RelevanceScore > 1 {
		return fmt.Errorf("finding %s relevance %.3f out of range", f.ID, f.RelevanceScore)
	}
	return nil
}

// SourceHost returns the lowercased host of SourceURL without a "www."
// prefix. Findings without a parseable URL use their ID so they count as
// distinct sources.
func (f Finding) SourceHost() string {
	u, err := url.Parse(f.SourceURL)
	if err != nil || u.Host == "" {
		return "finding:" + f.ID
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Severity grades a conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ConflictStatus is the lifecycle of a conflict.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution records why a conflict was closed.
type Resolution struct {
	FindingID  string    `json:"finding_id"`
	Reason     string    `json:"reason"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Conflict is a contradiction among at least two findings sharing a
// (subject, attribute) key.
type Conflict struct {
	ID               string         `json:"id"`
	Subject          string         `json:"subject"`
	Attribute        string         `json:"attribute"`
	MemberFindingIDs []string       `json:"member_finding_ids"`
	Severity         Severity       `json:"severity"`
	Status           ConflictStatus `json:"status"`
	Resolution       *Resolution    `json:"resolution,omitempty"`
	DetectedAt       time.Time      `json:"detected_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsOpen reports whether the conflict is unresolved.
func (c *Conflict) IsOpen() bool {
	return c != nil && c.Status == ConflictOpen
}

// Factor is one named input to a confidence score.
type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight,omitempty"`
}

// ConfidenceScore is an immutable score record. A recomputation yields a
// new record; the latest per key is current.
type ConfidenceScore struct {
	Subject    string    `json:"subject"`
	Attribute  string    `json:"attribute,omitempty"`
	Aggregate  bool      `json:"aggregate,omitempty"`
	Value      float64   `json:"value"`
	Findings   int       `json:"findings"`
	Factors    []Factor  `json:"factors"`
	ComputedAt time.Time `json:"computed_at"`
}

// Factor returns the named factor value.
func (s ConfidenceScore) Factor(name string) (float64, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// ComplexityLevel grades a query.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
	ComplexityUnknown  ComplexityLevel = "unknown"
)

// Complexity is the analyzer's difficulty assessment.
type Complexity struct {
	Level                ComplexityLevel `json:"level"`
	Factors              []string        `json:"factors,omitempty"`
	EstimatedDuration    time.Duration   `json:"estimated_duration"`
	ConfidenceChallenges []string        `json:"confidence_challenges,omitempty"`
}

// Analysis seeds plan construction.
type Analysis struct {
	Query      string     `json:"query"`
	Entities   []Entity   `json:"entities"`
	Domains    []string   `json:"domains"`
	Complexity Complexity `json:"complexity"`
	// Degraded is set when the analyzer could not reach its provider.
	Degraded bool `json:"degraded,omitempty"`
}

// HasDomain reports whether d was detected.
func (a Analysis) HasDomain(d string) bool {
	return slices.Contains(a.Domains, d)
}

// SignificantEntities returns primary subjects and relationship targets.
func (a Analysis) SignificantEntities() []Entity {
	var out []Entity
	for _, e := range a.Entities {
		if e.IsSignificant() {
			out = append(out, e)
		}
	}
	return out
}
