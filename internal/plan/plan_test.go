package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webStrategy() TaskStrategy {
	return TaskStrategy{Kind: StrategyWebSearch, Queries: []string{"{entity}"}}
}

// twoNodePlan returns A -> B in separate phases.
func twoNodePlan() *WorkflowPlan {
	return &WorkflowPlan{
		ID:      "plan-test",
		Query:   "Acme Corp financial health",
		Version: 1,
		Phases: []*PhaseNode{
			{ID: "p1", Title: "one", Tasks: []*TaskNode{
				{ID: "p1/a", Title: "A", Subject: "Acme Corp", Priority: 5, Strategy: webStrategy(), State: StatePending},
			}},
			{ID: "p2", Title: "two", DependsOn: []string{"p1"}, Tasks: []*TaskNode{
				{ID: "p2/b", Title: "B", Subject: "Acme Corp", Priority: 5, Strategy: webStrategy(), State: StatePending},
			}},
		},
	}
}

func TestValidateTransition(t *testing.T) {
	allowed := [][2]NodeState{
		{StatePending, StateReady},
		{StatePending, StateSkipped},
		{StateReady, StateRunning},
		{StateReady, StateSkipped},
		{StateRunning, StateCompleted},
		{StateRunning, StateFailed},
		{StateFailed, StateReady},
	}
	for _, tr := range allowed {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]NodeState{
		{StatePending, StateRunning},
		{StateRunning, StateSkipped},
		{StateCompleted, StateReady},
		{StateSkipped, StatePending},
		{StateFailed, StateCompleted},
		{StateReady, StatePending},
	}
	for _, tr := range denied {
		assert.Error(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.Error(t, ValidateTransition("bogus", StateReady))
}

func TestTransitionStampsTimes(t *testing.T) {
	p := twoNodePlan()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Transition("p1/a", StateReady, now)
	require.NoError(t, err)
	n, err := p.Transition("p1/a", StateRunning, now)
	require.NoError(t, err)
	require.NotNil(t, n.StartedAt)

	n, err = p.Transition("p1/a", StateCompleted, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, n.FinishedAt)

	_, err = p.Transition("p1/a", StateRunning, now)
	assert.Error(t, err)
	_, err = p.Transition("missing", StateReady, now)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestEffectiveDepsExpandsPhases(t *testing.T) {
	p := twoNodePlan()
	b := p.Task("p2/b")

	assert.Equal(t, []string{"p1/a"}, p.EffectiveDeps(b))
	assert.False(t, p.DepsSatisfied(b))

	p.Task("p1/a").State = StateSkipped
	assert.True(t, p.DepsSatisfied(b))
}

func TestDependentsIsTransitive(t *testing.T) {
	p := twoNodePlan()
	p.Phases = append(p.Phases, &PhaseNode{ID: "p3", Tasks: []*TaskNode{
		{ID: "p3/c", Priority: 5, DependsOn: []string{"p2/b"}, Strategy: webStrategy(), State: StatePending},
		{ID: "p3/d", Priority: 5, Strategy: webStrategy(), State: StatePending},
	}})

	var ids []string
	for _, d := range p.Dependents("p1/a") {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"p2/b", "p3/c"}, ids)
}

func TestPhaseStateDerived(t *testing.T) {
	ph := &PhaseNode{Tasks: []*TaskNode{{State: StateCompleted}, {State: StateSkipped}}}
	assert.Equal(t, StateCompleted, ph.State())

	ph.Tasks = append(ph.Tasks, &TaskNode{State: StateRunning})
	assert.Equal(t, StateRunning, ph.State())

	ph = &PhaseNode{Tasks: []*TaskNode{{State: StateSkipped}}}
	assert.Equal(t, StateSkipped, ph.State())
}

func TestCloneIsDeep(t *testing.T) {
	p := twoNodePlan()
	c := p.Clone()
	c.Task("p2/b").DependsOn = append(c.Task("p2/b").DependsOn, "x")
	c.Task("p1/a").Strategy.Queries[0] = "changed"
	c.Phases[1].DependsOn[0] = "zzz"

	assert.Empty(t, p.Task("p2/b").DependsOn)
	assert.Equal(t, "{entity}", p.Task("p1/a").Strategy.Queries[0])
	assert.Equal(t, "p1", p.Phases[1].DependsOn[0])
}

func TestReopen(t *testing.T) {
	p := twoNodePlan()
	p.Task("p1/a").State = StateRunning
	p.Task("p2/b").State = StateSkipped
	p.Task("p2/b").SkipReason = SkipCancelled

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, p.Reopen("p1/a", now))
	assert.True(t, p.Reopen("p2/b", now))

	a := p.Task("p1/a")
	assert.Equal(t, StateFailed, a.State)
	require.NotNil(t, a.LastError)
	assert.Equal(t, ErrorInterrupted, a.LastError.Kind)
	assert.True(t, a.LastError.Retryable)
	require.NotNil(t, a.NextRetryAt)
	assert.Equal(t, now, *a.NextRetryAt)
	assert.NoError(t, ValidateTransition(a.State, StateReady))
	assert.Equal(t, StatePending, p.Task("p2/b").State)

	p.Task("p2/b").State = StateSkipped
	p.Task("p2/b").SkipReason = SkipOperator
	assert.False(t, p.Reopen("p2/b", now))
	assert.False(t, p.Reopen("missing", now))
}

func TestStrategyExpand(t *testing.T) {
	s := TaskStrategy{
		Kind:       StrategyVerification,
		Queries:    []string{"{entity} {attribute} official", "{query}"},
		Attributes: []string{"revenue", "net_income"},
	}
	got := s.Expand("Acme Corp", "acme health")
	assert.Equal(t, []string{"Acme Corp revenue official", "Acme Corp net income official", "acme health"}, got)
}

func TestStrategyValidate(t *testing.T) {
	assert.NoError(t, webStrategy().Validate())
	assert.Error(t, TaskStrategy{Kind: "astrology", Queries: []string{"x"}}.Validate())
	assert.Error(t, TaskStrategy{Kind: StrategyLegal}.Validate())

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(-1, 0, 0)
	assert.Error(t, TaskStrategy{Kind: StrategyLegal, Queries: []string{"x"}, Since: &since, Until: &until}.Validate())
}

func TestValidateRejectsBadPlans(t *testing.T) {
	p := twoNodePlan()
	p.Task("p2/b").DependsOn = []string{"nope"}
	assert.ErrorIs(t, Validate(p), ErrUnknownNode)

	p = twoNodePlan()
	p.Phases[1].Tasks[0].ID = "p1/a"
	assert.ErrorIs(t, Validate(p), ErrDuplicateNode)

	p = twoNodePlan()
	p.Task("p1/a").Priority = 11
	assert.Error(t, Validate(p))

	p = twoNodePlan()
	p.Phases[0].DependsOn = []string{"p2"}
	var cycle *CycleError
	require.ErrorAs(t, Validate(p), &cycle)
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])

	p = twoNodePlan()
	p.Phases[0].DependsOn = []string{"p1"}
	assert.ErrorAs(t, Validate(p), &cycle)
}
