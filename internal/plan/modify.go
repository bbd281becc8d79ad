package plan

import (
	"fmt"
	"strings"
	"time"

	"sleuth/internal/logging"
)

// ChangeOp names a structured plan amendment.
type ChangeOp string

const (
	OpAddTask      ChangeOp = "add_task"
	OpReplaceTask  ChangeOp = "replace_task"
	OpAddPhase     ChangeOp = "add_phase"
	OpSetDependsOn ChangeOp = "set_depends_on"
	OpSetEstimate  ChangeOp = "set_estimate"
	OpSkipTask     ChangeOp = "skip_task"
)

// TaskSpec describes a task to add or a replacement definition.
type TaskSpec struct {
	ID        string       `json:"id,omitempty" yaml:"id,omitempty"`
	Title     string       `json:"title" yaml:"title"`
	Domain    string       `json:"domain,omitempty" yaml:"domain,omitempty"`
	Subject   string       `json:"subject,omitempty" yaml:"subject,omitempty"`
	Priority  int          `json:"priority,omitempty" yaml:"priority,omitempty"`
	DependsOn []string     `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Strategy  TaskStrategy `json:"strategy" yaml:"strategy"`
	Estimate  string       `json:"estimate,omitempty" yaml:"estimate,omitempty"`
}

// PhaseSpec describes a phase to add.
type PhaseSpec struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	DependsOn []string   `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Tasks     []TaskSpec `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// Change is one amendment. Target names the node for replace, depends,
// estimate and skip operations; Phase names the destination of add_task.
type Change struct {
	Op        ChangeOp   `json:"op" yaml:"op"`
	Target    string     `json:"target,omitempty" yaml:"target,omitempty"`
	Phase     string     `json:"phase,omitempty" yaml:"phase,omitempty"`
	Task      *TaskSpec  `json:"task,omitempty" yaml:"task,omitempty"`
	NewPhase  *PhaseSpec `json:"new_phase,omitempty" yaml:"new_phase,omitempty"`
	DependsOn []string   `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Estimate  string     `json:"estimate,omitempty" yaml:"estimate,omitempty"`
}

// ChangeSet is a validated, structured amendment request.
type ChangeSet struct {
	Reason  string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Changes []Change `json:"changes" yaml:"changes"`
}

// Modify applies cs to a copy of p and returns the amended plan. The call
// is all-or-nothing: on error p is untouched and no partial plan escapes.
// Completed, Running and Failed nodes keep their definition; only estimate
// changes are accepted on Running and Failed nodes.
func Modify(p *WorkflowPlan, cs ChangeSet) (*WorkflowPlan, error) {
	if len(cs.Changes) == 0 {
		return nil, ErrEmptyChange
	}
	np := p.Clone()
	for i, c := range cs.Changes {
		if err := apply(np, c); err != nil {
			return nil, fmt.Errorf("change %d (%s): %w", i, c.Op, err)
		}
	}
	if err := Validate(np); err != nil {
		return nil, err
	}
	for _, t := range np.Tasks() {
		if t.State == StateReady && !np.DepsSatisfied(t) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedReady, t.ID)
		}
	}
	np.Version = p.Version + 1
	logging.Planner("Modified plan %s to v%d (%d changes): %s", np.ID, np.Version, len(cs.Changes), cs.Reason)
	return np, nil
}

func apply(p *WorkflowPlan, c Change) error {
	switch c.Op {
	case OpAddTask:
		ph := p.Phase(c.Phase)
		if ph == nil {
			return fmt.Errorf("%w: phase %q", ErrUnknownNode, c.Phase)
		}
		if c.Task == nil {
			return fmt.Errorf("add_task needs a task")
		}
		t, err := newTask(ph.ID, *c.Task)
		if err != nil {
			return err
		}
		if p.Task(t.ID) != nil || p.Phase(t.ID) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, t.ID)
		}
		ph.Tasks = append(ph.Tasks, t)
		ph.EstimatedDuration += t.EstimatedDuration

	case OpAddPhase:
		if c.NewPhase == nil || c.NewPhase.ID == "" {
			return fmt.Errorf("add_phase needs a phase id")
		}
		if p.Phase(c.NewPhase.ID) != nil || p.Task(c.NewPhase.ID) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, c.NewPhase.ID)
		}
		ph := &PhaseNode{ID: c.NewPhase.ID, Title: c.NewPhase.Title, DependsOn: append([]string{}, c.NewPhase.DependsOn...)}
		for _, spec := range c.NewPhase.Tasks {
			t, err := newTask(ph.ID, spec)
			if err != nil {
				return err
			}
			ph.Tasks = append(ph.Tasks, t)
			ph.EstimatedDuration += t.EstimatedDuration
		}
		p.Phases = append(p.Phases, ph)

	case OpReplaceTask:
		t := p.Task(c.Target)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, c.Target)
		}
		if err := requireEditable(t); err != nil {
			return err
		}
		if c.Task == nil {
			return fmt.Errorf("replace_task needs a task")
		}
		repl, err := newTask(p.PhaseOf(t.ID).ID, *c.Task)
		if err != nil {
			return err
		}
		repl.ID, repl.State, repl.SkipReason = t.ID, t.State, t.SkipReason
		*t = *repl

	case OpSetDependsOn:
		if t := p.Task(c.Target); t != nil {
			if err := requireEditable(t); err != nil {
				return err
			}
			t.DependsOn = append([]string{}, c.DependsOn...)
			return nil
		}
		ph := p.Phase(c.Target)
		if ph == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, c.Target)
		}
		for _, t := range ph.Tasks {
			if err := requireEditable(t); err != nil {
				return err
			}
		}
		ph.DependsOn = append([]string{}, c.DependsOn...)

	case OpSetEstimate:
		d, err := time.ParseDuration(c.Estimate)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid estimate %q", c.Estimate)
		}
		if t := p.Task(c.Target); t != nil {
			if t.State == StateCompleted {
				return fmt.Errorf("%w: %s is %s", ErrImmutableNode, t.ID, t.State)
			}
			ph := p.PhaseOf(t.ID)
			ph.EstimatedDuration += d - t.EstimatedDuration
			t.EstimatedDuration = d
			return nil
		}
		ph := p.Phase(c.Target)
		if ph == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, c.Target)
		}
		ph.EstimatedDuration = d

	case OpSkipTask:
		t := p.Task(c.Target)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, c.Target)
		}
		if t.State == StateSkipped {
			return nil
		}
		if err := requireEditable(t); err != nil {
			return err
		}
		if _, err := p.Transition(t.ID, StateSkipped, time.Now().UTC()); err != nil {
			return err
		}
		t.SkipReason = SkipOperator

	default:
		return fmt.Errorf("unknown change op %q", c.Op)
	}
	return nil
}

// requireEditable allows edits to nodes that have not started.
func requireEditable(t *TaskNode) error {
	switch t.State {
	case StatePending, StateReady:
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrImmutableNode, t.ID, t.State)
}

func newTask(phaseID string, spec TaskSpec) (*TaskNode, error) {
	id := spec.ID
	if id == "" {
		if spec.Title == "" {
			return nil, fmt.Errorf("task needs an id or title")
		}
		id = Slug(spec.Title)
	}
	if !strings.Contains(id, "/") {
		id = phaseID + "/" + id
	}
	var est time.Duration
	if spec.Estimate != "" {
		d, err := time.ParseDuration(spec.Estimate)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("task %s: invalid estimate %q", id, spec.Estimate)
		}
		est = d
	}
	prio := spec.Priority
	if prio == 0 {
		prio = 5
	}
	domain := spec.Domain
	if domain == "" {
		domain = string(spec.Strategy.Kind)
	}
	return &TaskNode{
		ID:                id,
		Title:             spec.Title,
		Domain:            domain,
		Subject:           spec.Subject,
		Priority:          prio,
		DependsOn:         append([]string{}, spec.DependsOn...),
		Strategy:          spec.Strategy.clone(),
		EstimatedDuration: est,
		State:             StatePending,
	}, nil
}
