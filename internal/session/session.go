// Package session defines the durable record of one investigation: its plan,
// the knowledge base of findings and conflicts, current confidence scores,
// and status. A session is the unit of persistence and resumption.
package session

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"sleuth/internal/plan"
	"sleuth/internal/types"
)

// Status is the lifecycle of a session.
type Status string

const (
	StatusActive    Status = "active"    // Being driven by an orchestrator
	StatusPaused    Status = "paused"    // Gracefully cancelled, resumable
	StatusCompleted Status = "completed" // Finished, possibly with failures
	StatusFailed    Status = "failed"    // Aborted
)

// Session is the unit of persistence.
type Session struct {
	ID            string                  `json:"id"`
	Query         string                  `json:"query"`
	Analysis      types.Analysis          `json:"analysis"`
	Plan          *plan.WorkflowPlan      `json:"plan"`
	Findings      []types.Finding         `json:"findings"`
	Conflicts     []types.Conflict        `json:"conflicts"`
	Scores        []types.ConfidenceScore `json:"scores,omitempty"`
	Aggregate     *types.ConfidenceScore  `json:"aggregate,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Status        Status                  `json:"status"`
	FailureReason string                  `json:"failure_reason,omitempty"`
}

// New creates an active session for a plan.
func New(query string, analysis types.Analysis, p *plan.WorkflowPlan, now time.Time) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Query:     query,
		Analysis:  analysis,
		Plan:      p,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusActive,
	}
}

// Finding returns the finding with the given id.
func (s *Session) Finding(id string) (types.Finding, bool) {
	for _, f := range s.Findings {
		if f.ID == id {
			return f, true
		}
	}
	return types.Finding{}, false
}

// OpenConflicts returns unresolved conflicts.
func (s *Session) OpenConflicts() []types.Conflict {
	var out []types.Conflict
	for _, c := range s.Conflicts {
		if c.Status == types.ConflictOpen {
			out = append(out, c)
		}
	}
	return out
}

// FailedNodes returns tasks that ended Failed.
func (s *Session) FailedNodes() []*plan.TaskNode {
	if s.Plan == nil {
		return nil
	}
	var out []*plan.TaskNode
	for _, t := range s.Plan.Tasks() {
		if t.State == plan.StateFailed {
			out = append(out, t)
		}
	}
	return out
}

// PutConflict inserts or replaces a conflict, keeping the list ordered by id.
func (s *Session) PutConflict(c types.Conflict) {
	i := sort.Search(len(s.Conflicts), func(i int) bool { return s.Conflicts[i].ID >= c.ID })
	if i < len(s.Conflicts) && s.Conflicts[i].ID == c.ID {
		s.Conflicts[i] = c
		return
	}
	s.Conflicts = slices.Insert(s.Conflicts, i, c)
}

// PutScore replaces the current score for its key.
func (s *Session) PutScore(score types.ConfidenceScore) {
	for i, cur := range s.Scores {
		if cur.Subject == score.Subject && cur.Attribute == score.Attribute {
			s.Scores[i] = score
			return
		}
	}
	s.Scores = append(s.Scores, score)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	c.Analysis = cloneAnalysis(s.Analysis)
	c.Plan = s.Plan.Clone()
	c.Findings = slices.Clone(s.Findings)
	c.Conflicts = make([]types.Conflict, len(s.Conflicts))
	for i, cf := range s.Conflicts {
		cf.MemberFindingIDs = slices.Clone(cf.MemberFindingIDs)
		if cf.Resolution != nil {
			r := *cf.Resolution
			cf.Resolution = &r
		}
		c.Conflicts[i] = cf
	}
	if s.Conflicts == nil {
		c.Conflicts = nil
	}
	c.Scores = make([]types.ConfidenceScore, len(s.Scores))
	for i, sc := range s.Scores {
		sc.Factors = slices.Clone(sc.Factors)
		c.Scores[i] = sc
	}
	if s.Scores == nil {
		c.Scores = nil
	}
	if s.Aggregate != nil {
		agg := *s.Aggregate
		agg.Factors = slices.Clone(s.Aggregate.Factors)
		c.Aggregate = &agg
	}
	return &c
}

func cloneAnalysis(a types.Analysis) types.Analysis {
	c := a
	c.Domains = slices.Clone(a.Domains)
	c.Entities = make([]types.Entity, len(a.Entities))
	for i, e := range a.Entities {
		e.Aliases = slices.Clone(e.Aliases)
		c.Entities[i] = e
	}
	if a.Entities == nil {
		c.Entities = nil
	}
	c.Complexity.Factors = slices.Clone(a.Complexity.Factors)
	c.Complexity.ConfidenceChallenges = slices.Clone(a.Complexity.ConfidenceChallenges)
	return c
}

// Summary is the listing view of a session.
type Summary struct {
	ID            string                 `json:"id"`
	Query         string                 `json:"query"`
	Status        Status                 `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Nodes         map[plan.NodeState]int `json:"nodes"`
	Findings      int                    `json:"findings"`
	OpenConflicts int                    `json:"open_conflicts"`
	Confidence    float64                `json:"confidence"`
}

// Summary builds the listing view.
func (s *Session) Summary() Summary {
	sum := Summary{
		ID:            s.ID,
		Query:         s.Query,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Nodes:         map[plan.NodeState]int{},
		Findings:      len(s.Findings),
		OpenConflicts: len(s.OpenConflicts()),
	}
	if s.Plan != nil {
		sum.Nodes = s.Plan.Counts()
	}
	if s.Aggregate != nil {
		sum.Confidence = s.Aggregate.Value
	}
	return sum
}

// SortSummaries orders summaries newest first, ties by id.
func SortSummaries(list []Summary) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}
