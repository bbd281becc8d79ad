package plan

import (
	"fmt"
	"time"
)

var allowedTransitions = map[NodeState]map[NodeState]struct{}{
	StatePending: {
		StateReady:   {},
		StateSkipped: {},
	},
	StateReady: {
		StateRunning: {},
		StateSkipped: {},
	},
	StateRunning: {
		StateCompleted: {},
		StateFailed:    {},
	},
	StateFailed: {
		StateReady: {},
	},
	StateCompleted: {},
	StateSkipped:   {},
}

// ValidateState rejects unknown states.
func ValidateState(state NodeState) error {
	if _, ok := allowedTransitions[state]; !ok {
		return fmt.Errorf("invalid node state: %q", state)
	}
	return nil
}

// ValidateTransition checks a move against the node-state graph.
func ValidateTransition(from, to NodeState) error {
	if err := ValidateState(from); err != nil {
		return err
	}
	if err := ValidateState(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid node transition: %s -> %s", from, to)
	}
	return nil
}

// Transition moves task id to state to, stamping lifecycle times.
func (p *WorkflowPlan) Transition(id string, to NodeState, now time.Time) (*TaskNode, error) {
	t := p.Task(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if err := ValidateTransition(t.State, to); err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	t.State = to
	switch to {
	case StateRunning:
		t.StartedAt = &now
		t.NextRetryAt = nil
	case StateCompleted, StateFailed, StateSkipped:
		t.FinishedAt = &now
	case StateReady:
		t.FinishedAt = nil
	}
	return t, nil
}

// Reopen puts a node found mid-flight after a restart back on the ready
// path and reports whether the node changed. A Running node lost its
// executor: it fails as interrupted with its retry due now, so the normal
// Failed -> Ready retry picks it up. Nodes skipped by a cancellation revert
// to Pending. Other states are left alone.
func (p *WorkflowPlan) Reopen(id string, now time.Time) bool {
	t := p.Task(id)
	if t == nil {
		return false
	}
	switch {
	case t.State == StateRunning:
		if _, err := p.Transition(id, StateFailed, now); err != nil {
			return false
		}
		t.LastError = &NodeError{Kind: ErrorInterrupted, Message: "executor lost before the node finished", Retryable: true, At: now}
		t.NextRetryAt = &now
		return true
	case t.State == StateSkipped && t.SkipReason == SkipCancelled:
		t.State = StatePending
		t.SkipReason = ""
		t.FinishedAt = nil
		return true
	}
	return false
}
