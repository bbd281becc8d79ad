// Package plan defines the hierarchical research plan: phases of task nodes
// linked by dependsOn edges, the node-state machine, and the builder and
// modifier that produce and amend plans.
package plan

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"sleuth/internal/types"
)

// NodeState is the lifecycle state of a task node.
type NodeState string

const (
	StatePending   NodeState = "pending"   // Waiting on dependencies
	StateReady     NodeState = "ready"     // Dependencies satisfied, not dispatched
	StateRunning   NodeState = "running"   // Dispatched to a worker
	StateCompleted NodeState = "completed" // Finished successfully
	StateFailed    NodeState = "failed"    // Failed (may be retried)
	StateSkipped   NodeState = "skipped"   // Will not run
)

// SatisfiesDependents reports whether downstream nodes may proceed.
func (s NodeState) SatisfiesDependents() bool {
	return s == StateCompleted || s == StateSkipped
}

// Unfinished reports whether the node still needs scheduling.
func (s NodeState) Unfinished() bool {
	return s == StatePending || s == StateReady || s == StateRunning
}

// Skip reasons.
const (
	SkipCancelled      = "cancelled"
	SkipUpstreamFailed = "upstream_failed"
	SkipOperator       = "operator"
)

// ErrorKind classifies why a node failed.
type ErrorKind string

const (
	ErrorRateLimited        ErrorKind = "rate_limited"
	ErrorUnavailable        ErrorKind = "unavailable"
	ErrorInvalidCredentials ErrorKind = "invalid_credentials"
	ErrorTimeout            ErrorKind = "timeout"
	ErrorCancelled          ErrorKind = "cancelled"
	ErrorInternal           ErrorKind = "internal"
	ErrorInterrupted        ErrorKind = "interrupted" // Executor lost with the process
)

// NodeError is the last failure recorded on a node.
type NodeError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StrategyKind is the closed set of retrieval strategies.
type StrategyKind string

const (
	StrategyWebSearch    StrategyKind = "web_search"
	StrategyFinancial    StrategyKind = "financial"
	StrategyLegal        StrategyKind = "legal"
	StrategyOSINT        StrategyKind = "osint"
	StrategyVerification StrategyKind = "verification"
)

var strategyKinds = []StrategyKind{StrategyWebSearch, StrategyFinancial, StrategyLegal, StrategyOSINT, StrategyVerification}

// TaskStrategy is a tagged retrieval spec. Queries are templates that may
// reference {entity}, {query} and {attribute}.
type TaskStrategy struct {
	Kind       StrategyKind `json:"kind" yaml:"kind"`
	Queries    []string     `json:"queries" yaml:"queries"`
	Domains    []string     `json:"domains,omitempty" yaml:"domains,omitempty"`
	Since      *time.Time   `json:"since,omitempty" yaml:"since,omitempty"`
	Until      *time.Time   `json:"until,omitempty" yaml:"until,omitempty"`
	Attributes []string     `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	MaxResults int          `json:"max_results,omitempty" yaml:"max_results,omitempty"`
}

// Validate rejects unknown kinds and empty query lists.
func (s TaskStrategy) Validate() error {
	if !slices.Contains(strategyKinds, s.Kind) {
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	if len(s.Queries) == 0 {
		return fmt.Errorf("strategy %s has no queries", s.Kind)
	}
	if s.Since != nil && s.Until != nil && s.Until.Before(*s.Since) {
		return fmt.Errorf("strategy %s date range is inverted", s.Kind)
	}
	if s.MaxResults < 0 {
		return fmt.Errorf("strategy %s max_results is negative", s.Kind)
	}
	return nil
}

// Expand renders the query templates for subject. Templates referencing
// {attribute} produce one query per attribute.
func (s TaskStrategy) Expand(subject, query string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q != "" && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, tmpl := range s.Queries {
		base := strings.NewReplacer("{entity}", subject, "{query}", query).Replace(tmpl)
		if !strings.Contains(base, "{attribute}") {
			add(base)
			continue
		}
		for _, attr := range s.Attributes {
			add(strings.ReplaceAll(base, "{attribute}", strings.ReplaceAll(attr, "_", " ")))
		}
	}
	return out
}

// TaskNode is one schedulable unit of research.
type TaskNode struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Domain            string           `json:"domain"`
	Subject           string           `json:"subject"`
	SubjectType       types.EntityType `json:"subject_type,omitempty"`
	Priority          int              `json:"priority"`
	DependsOn         []string         `json:"depends_on,omitempty"`
	Strategy          TaskStrategy     `json:"strategy"`
	EstimatedDuration time.Duration    `json:"estimated_duration"`
	State             NodeState        `json:"state"`
	Attempts          int              `json:"attempts,omitempty"`
	NextRetryAt       *time.Time       `json:"next_retry_at,omitempty"`
	LastError         *NodeError       `json:"last_error,omitempty"`
	SkipReason        string           `json:"skip_reason,omitempty"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
}

// PhaseNode groups tasks. Its dependsOn applies to every task it holds and
// its state is derived from them.
type PhaseNode struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	DependsOn         []string      `json:"depends_on,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Tasks             []*TaskNode   `json:"tasks"`
}

// State derives the phase state from its tasks.
func (p *PhaseNode) State() NodeState {
	if len(p.Tasks) == 0 {
		return StateCompleted
	}
	counts := make(map[NodeState]int)
	for _, t := range p.Tasks {
		counts[t.State]++
	}
	switch {
	case counts[StateRunning] > 0:
		return StateRunning
	case counts[StateReady] > 0:
		return StateReady
	case counts[StatePending] > 0:
		return StatePending
	case counts[StateFailed] > 0:
		return StateFailed
	case counts[StateCompleted] > 0:
		return StateCompleted
	}
	return StateSkipped
}

// WorkflowPlan is the ordered phase/task tree for one query.
type WorkflowPlan struct {
	ID      string       `json:"id"`
	Query   string       `json:"query"`
	Version int          `json:"version"`
	Phases  []*PhaseNode `json:"phases"`
}

// Tasks returns every task in plan order.
func (p *WorkflowPlan) Tasks() []*TaskNode {
	var out []*TaskNode
	for _, ph := range p.Phases {
		out = append(out, ph.Tasks...)
	}
	return out
}

// Task looks up a task by id.
func (p *WorkflowPlan) Task(id string) *TaskNode {
	for _, ph := range p.Phases {
		for _, t := range ph.Tasks {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// Phase looks up a phase by id.
func (p *WorkflowPlan) Phase(id string) *PhaseNode {
	for _, ph := range p.Phases {
		if ph.ID == id {
			return ph
		}
	}
	return nil
}

// PhaseOf returns the phase holding task id.
func (p *WorkflowPlan) PhaseOf(id string) *PhaseNode {
	for _, ph := range p.Phases {
		for _, t := range ph.Tasks {
			if t.ID == id {
				return ph
			}
		}
	}
	return nil
}

// Order returns the plan-order index of every task.
func (p *WorkflowPlan) Order() map[string]int {
	order := make(map[string]int)
	for i, t := range p.Tasks() {
		order[t.ID] = i
	}
	return order
}

// EffectiveDeps returns the task ids t waits on: its own dependsOn plus its
// phase's, with phase ids expanded to their tasks.
func (p *WorkflowPlan) EffectiveDeps(t *TaskNode) []string {
	var raw []string
	raw = append(raw, t.DependsOn...)
	if ph := p.PhaseOf(t.ID); ph != nil {
		raw = append(raw, ph.DependsOn...)
	}

	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != t.ID && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range raw {
		if ph := p.Phase(id); ph != nil {
			for _, pt := range ph.Tasks {
				add(pt.ID)
			}
			continue
		}
		add(id)
	}
	return out
}

// DepsSatisfied reports whether every effective dependency of t is
// Completed or Skipped.
func (p *WorkflowPlan) DepsSatisfied(t *TaskNode) bool {
	for _, id := range p.EffectiveDeps(t) {
		dep := p.Task(id)
		if dep == nil || !dep.State.SatisfiesDependents() {
			return false
		}
	}
	return true
}

// Dependents returns the transitive downstream closure of task id in plan
// order.
func (p *WorkflowPlan) Dependents(id string) []*TaskNode {
	tasks := p.Tasks()
	marked := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, t := range tasks {
			if marked[t.ID] {
				continue
			}
			for _, dep := range p.EffectiveDeps(t) {
				if marked[dep] {
					marked[t.ID] = true
					changed = true
					break
				}
			}
		}
	}
	var out []*TaskNode
	for _, t := range tasks {
		if t.ID != id && marked[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// Counts tallies tasks by state.
func (p *WorkflowPlan) Counts() map[NodeState]int {
	counts := make(map[NodeState]int)
	for _, t := range p.Tasks() {
		counts[t.State]++
	}
	return counts
}

// Clone returns a deep copy.
func (p *WorkflowPlan) Clone() *WorkflowPlan {
	if p == nil {
		return nil
	}
	out := &WorkflowPlan{ID: p.ID, Query: p.Query, Version: p.Version}
	for _, ph := range p.Phases {
		np := &PhaseNode{
			ID:                ph.ID,
			Title:             ph.Title,
			DependsOn:         slices.Clone(ph.DependsOn),
			EstimatedDuration: ph.EstimatedDuration,
		}
		for _, t := range ph.Tasks {
			np.Tasks = append(np.Tasks, t.Clone())
		}
		out.Phases = append(out.Phases, np)
	}
	return out
}

// Clone returns a deep copy of the task.
func (t *TaskNode) Clone() *TaskNode {
	c := *t
	c.DependsOn = slices.Clone(t.DependsOn)
	c.Strategy = t.Strategy.clone()
	c.NextRetryAt = cloneTime(t.NextRetryAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.FinishedAt = cloneTime(t.FinishedAt)
	if t.LastError != nil {
		e := *t.LastError
		c.LastError = &e
	}
	return &c
}

func (s TaskStrategy) clone() TaskStrategy {
	c := s
	c.Queries = slices.Clone(s.Queries)
	c.Domains = slices.Clone(s.Domains)
	c.Attributes = slices.Clone(s.Attributes)
	c.Since = cloneTime(s.Since)
	c.Until = cloneTime(s.Until)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
