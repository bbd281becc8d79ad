package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"sleuth/internal/logging"
	"sleuth/internal/types"
)

// Phase ids produced by the builder.
const (
	PhaseDiscovery    = "discovery"
	PhaseVerification = "verification"
	PhaseSynthesis    = "synthesis"
)

// TaskTemplate describes one task instantiated per subject entity.
type TaskTemplate struct {
	Key        string
	Title      string
	Kind       StrategyKind
	Priority   int
	Queries    []string
	Domains    []string
	Attributes []string
	Estimate   time.Duration
}

// PhaseTemplate is the set of tasks a detected domain contributes.
type PhaseTemplate struct {
	Domain string
	Title  string
	Tasks  []TaskTemplate
}

// Library maps a domain to its phase template.
type Library map[string]PhaseTemplate

// Authoritative source filters used by verification tasks.
var (
	GovernmentDomains = []string{"sec.gov", "irs.gov", "ftc.gov", "justice.gov", "uscourts.gov", "courtlistener.com", "companieshouse.gov.uk"}
	WireDomains       = []string{"reuters.com", "apnews.com", "bbc.com", "npr.org", "bloomberg.com"}
)

// GeneralAttributes are extracted by background and coverage tasks.
var GeneralAttributes = []string{"revenue", "employees", "founded", "headquarters", "ceo"}

// DefaultLibrary returns the built-in domain templates.
func DefaultLibrary() Library {
	return Library{
		"financial": {
			Domain: "financial",
			Title:  "Financial position",
			Tasks: []TaskTemplate{{
				Key:        "filings",
				Title:      "Financial filings and results for {entity}",
				Kind:       StrategyFinancial,
				Priority:   7,
				Queries:    []string{"{entity} annual revenue", "{entity} financial results", "{entity} funding valuation"},
				Domains:    []string{"sec.gov", "reuters.com", "bloomberg.com", "crunchbase.com"},
				Attributes: []string{"revenue", "net_income", "employees", "valuation", "funding"},
				Estimate:   4 * time.Minute,
			}},
		},
		"legal": {
			Domain: "legal",
			Title:  "Legal exposure",
			Tasks: []TaskTemplate{{
				Key:        "litigation",
				Title:      "Litigation and regulatory actions involving {entity}",
				Kind:       StrategyLegal,
				Priority:   6,
				Queries:    []string{"{entity} lawsuit", "{entity} court case settlement", "{entity} regulatory fine"},
				Domains:    []string{"courtlistener.com", "justice.gov", "uscourts.gov", "ftc.gov"},
				Attributes: []string{"lawsuit", "status"},
				Estimate:   4 * time.Minute,
			}},
		},
		"osint": {
			Domain: "osint",
			Title:  "Organization footprint",
			Tasks: []TaskTemplate{{
				Key:        "footprint",
				Title:      "Leadership, location and history of {entity}",
				Kind:       StrategyOSINT,
				Priority:   5,
				Queries:    []string{"{entity} headquarters", "{entity} founded", "{entity} ceo leadership"},
				Attributes: []string{"headquarters", "founded", "ceo", "employees"},
				Estimate:   3 * time.Minute,
			}},
		},
		"news": {
			Domain: "news",
			Title:  "Recent coverage",
			Tasks: []TaskTemplate{{
				Key:        "coverage",
				Title:      "Recent news coverage of {entity}",
				Kind:       StrategyWebSearch,
				Priority:   4,
				Queries:    []string{"{entity} news", "{entity} {query}"},
				Domains:    WireDomains,
				Attributes: GeneralAttributes,
				Estimate:   2 * time.Minute,
			}},
		},
	}
}

// Builder instantiates plans from analyses. Build output depends only on
// the analysis and the library.
type Builder struct {
	library  Library
	maxTasks int
}

// NewBuilder creates a builder. maxTasks <= 0 means unlimited.
func NewBuilder(library Library, maxTasks int) *Builder {
	if library == nil {
		library = DefaultLibrary()
	}
	return &Builder{library: library, maxTasks: maxTasks}
}

// Build produces a plan for the analysis.
func (b *Builder) Build(a types.Analysis) (*WorkflowPlan, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Build")
	defer timer.Stop()

	p := &WorkflowPlan{ID: planID(a), Query: a.Query, Version: 1}

	subjects := planSubjects(a)
	if a.Degraded || len(subjects) == 0 {
		p.Phases = []*PhaseNode{minimalPhase(a.Query)}
		logging.Planner("Built minimal plan %s for %q (degraded=%v)", p.ID, a.Query, a.Degraded)
		return p, Validate(p)
	}

	discovery := &PhaseNode{ID: PhaseDiscovery, Title: "Background discovery"}
	for _, s := range subjects {
		discovery.Tasks = append(discovery.Tasks, instantiate(PhaseDiscovery, TaskTemplate{
			Key:        "background",
			Title:      "Background research on {entity}",
			Kind:       StrategyWebSearch,
			Priority:   8,
			Queries:    []string{"{entity}", "{entity} company overview"},
			Attributes: GeneralAttributes,
			Estimate:   2 * time.Minute,
		}, "general", s, a.Query))
	}
	p.Phases = append(p.Phases, discovery)

	var domainPhases []string
	attrs := append([]string{}, GeneralAttributes...)
	for _, domain := range a.Domains {
		tmpl, ok := b.library[domain]
		if !ok {
			logging.PlannerDebug("No template for domain %q", domain)
			continue
		}
		ph := &PhaseNode{ID: domain, Title: tmpl.Title, DependsOn: []string{PhaseDiscovery}}
		for _, tt := range tmpl.Tasks {
			for _, s := range subjects {
				ph.Tasks = append(ph.Tasks, instantiate(domain, tt, domain, s, a.Query))
			}
			attrs = appendUnique(attrs, tt.Attributes...)
		}
		p.Phases = append(p.Phases, ph)
		domainPhases = append(domainPhases, ph.ID)
	}
	if len(domainPhases) == 0 {
		domainPhases = []string{PhaseDiscovery}
	}

	verification := &PhaseNode{ID: PhaseVerification, Title: "Independent verification", DependsOn: domainPhases}
	for _, s := range subjects {
		verification.Tasks = append(verification.Tasks, instantiate(PhaseVerification, TaskTemplate{
			Key:        "crosscheck",
			Title:      "Verify key facts about {entity} against authoritative sources",
			Kind:       StrategyVerification,
			Priority:   9,
			Queries:    []string{"{entity} {attribute} official"},
			Domains:    append(append([]string{}, GovernmentDomains...), WireDomains...),
			Attributes: attrs,
			Estimate:   3 * time.Minute,
		}, "verification", s, a.Query))
	}
	p.Phases = append(p.Phases, verification)

	synthesis := &PhaseNode{ID: PhaseSynthesis, Title: "Consistency sweep", DependsOn: []string{PhaseVerification}}
	synthesis.Tasks = append(synthesis.Tasks, instantiate(PhaseSynthesis, TaskTemplate{
		Key:        "sweep",
		Title:      "Consistency sweep for {entity}",
		Kind:       StrategyWebSearch,
		Priority:   2,
		Queries:    []string{"{query}"},
		Attributes: attrs,
		Estimate:   2 * time.Minute,
	}, "general", subjects[0], a.Query))
	p.Phases = append(p.Phases, synthesis)

	b.enforceCap(p)
	for _, ph := range p.Phases {
		for _, t := range ph.Tasks {
			ph.EstimatedDuration += t.EstimatedDuration
		}
	}

	logging.Planner("Built plan %s: %d phases, %d tasks", p.ID, len(p.Phases), len(p.Tasks()))
	return p, Validate(p)
}

// enforceCap drops the lowest-priority tasks (latest first) beyond
// maxTasks, then removes empty phases and references to them.
func (b *Builder) enforceCap(p *WorkflowPlan) {
	tasks := p.Tasks()
	if b.maxTasks <= 0 || len(tasks) <= b.maxTasks {
		return
	}
	order := p.Order()
	ranked := append([]*TaskNode{}, tasks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority == ranked[j].Priority {
			return order[ranked[i].ID] < order[ranked[j].ID]
		}
		return ranked[i].Priority > ranked[j].Priority
	})
	keep := make(map[string]bool)
	for _, t := range ranked[:b.maxTasks] {
		keep[t.ID] = true
	}

	removed := make(map[string]bool)
	var phases []*PhaseNode
	for _, ph := range p.Phases {
		var kept []*TaskNode
		for _, t := range ph.Tasks {
			if keep[t.ID] {
				kept = append(kept, t)
			} else {
				removed[t.ID] = true
			}
		}
		ph.Tasks = kept
		if len(kept) == 0 {
			removed[ph.ID] = true
			continue
		}
		phases = append(phases, ph)
	}
	for _, ph := range phases {
		ph.DependsOn = dropRemoved(ph.DependsOn, removed)
		for _, t := range ph.Tasks {
			t.DependsOn = dropRemoved(t.DependsOn, removed)
		}
	}
	p.Phases = phases
	logging.PlannerDebug("Capped plan %s to %d tasks (dropped %d)", p.ID, b.maxTasks, len(tasks)-b.maxTasks)
}

func minimalPhase(query string) *PhaseNode {
	t := instantiate(PhaseDiscovery, TaskTemplate{
		Key:        "web",
		Title:      "General web research",
		Kind:       StrategyWebSearch,
		Priority:   5,
		Queries:    []string{"{query}"},
		Attributes: GeneralAttributes,
		Estimate:   3 * time.Minute,
	}, "general", subject{name: query, slug: Slug(query)}, query)
	t.ID = PhaseDiscovery + "/web"
	return &PhaseNode{
		ID:                PhaseDiscovery,
		Title:             "General research",
		EstimatedDuration: t.EstimatedDuration,
		Tasks:             []*TaskNode{t},
	}
}

func instantiate(phaseID string, tt TaskTemplate, domain string, subj subject, query string) *TaskNode {
	r := strings.NewReplacer("{entity}", subj.name, "{query}", query)
	return &TaskNode{
		ID:          phaseID + "/" + subj.slug + "-" + tt.Key,
		Title:       r.Replace(tt.Title),
		Domain:      domain,
		Subject:     subj.name,
		SubjectType: subj.typ,
		Priority:    tt.Priority,
		Strategy: TaskStrategy{
			Kind:       tt.Kind,
			Queries:    append([]string{}, tt.Queries...),
			Domains:    append([]string{}, tt.Domains...),
			Attributes: append([]string{}, tt.Attributes...),
		},
		EstimatedDuration: tt.Estimate,
		State:             StatePending,
	}
}

type subject struct {
	name string
	typ  types.EntityType
	slug string
}

// planSubjects picks the entities tasks are instantiated for: significant
// entities, or every entity when none is marked significant. Entities
// sharing a name get type-qualified slugs.
func planSubjects(a types.Analysis) []subject {
	pick := a.SignificantEntities()
	if len(pick) == 0 {
		pick = a.Entities
	}

	seen := make(map[string]bool)
	names := make(map[string]int)
	var out []subject
	for _, e := range pick {
		if seen[e.Key()] || strings.TrimSpace(e.Name) == "" {
			continue
		}
		seen[e.Key()] = true
		names[types.NormalizeName(e.Name)]++
		out = append(out, subject{name: e.Name, typ: e.Type, slug: Slug(e.Name)})
	}
	for i, sj := range out {
		if names[types.NormalizeName(sj.name)] > 1 && sj.typ != "" {
			out[i].slug = sj.slug + "-" + Slug(string(sj.typ))
		}
	}
	return out
}

func planID(a types.Analysis) string {
	h := sha256.New()
	h.Write([]byte(a.Query))
	for _, d := range a.Domains {
		h.Write([]byte{0})
		h.Write([]byte(d))
	}
	for _, e := range a.Entities {
		h.Write([]byte{0})
		h.Write([]byte(e.Key()))
	}
	return "plan-" + hex.EncodeToString(h.Sum(nil))[:12]
}

// Slug turns a name into an id fragment.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "x"
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, l := range list {
			if l == it {
				found = true
				break
			}
		}
		if !found {
			list = append(list, it)
		}
	}
	return list
}

func dropRemoved(ids []string, removed map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if !removed[id] {
			out = append(out, id)
		}
	}
	return out
}

// String renders a one-line plan summary.
func (p *WorkflowPlan) String() string {
	counts := p.Counts()
	return fmt.Sprintf("%s v%d: %d phases, %d tasks (%d done)", p.ID, p.Version, len(p.Phases), len(p.Tasks()), counts[StateCompleted])
}
