package plan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrImmutableNode = errors.New("node can no longer be modified")
	ErrBlockedReady  = errors.New("ready node would gain unsatisfied dependencies")
	ErrEmptyChange   = errors.New("change set is empty")
)

// CycleError reports a dependsOn cycle. Path starts and ends on the same
// node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "plan dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Validate checks id uniqueness, dependency references, priorities,
// strategies and acyclicity.
func Validate(p *WorkflowPlan) error {
	ids := make(map[string]bool)
	for _, ph := range p.Phases {
		if ph.ID == "" {
			return fmt.Errorf("phase with empty id")
		}
		if ids[ph.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, ph.ID)
		}
		ids[ph.ID] = true
		for _, t := range ph.Tasks {
			if t.ID == "" {
				return fmt.Errorf("task with empty id in phase %s", ph.ID)
			}
			if ids[t.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateNode, t.ID)
			}
			ids[t.ID] = true
		}
	}

	for _, ph := range p.Phases {
		for _, dep := range ph.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("phase %s depends on %w %s", ph.ID, ErrUnknownNode, dep)
			}
		}
		for _, t := range ph.Tasks {
			for _, dep := range t.DependsOn {
				if !ids[dep] {
					return fmt.Errorf("task %s depends on %w %s", t.ID, ErrUnknownNode, dep)
				}
			}
			if t.Priority < 1 || t.Priority > 10 {
				return fmt.Errorf("task %s priority %d outside 1..10", t.ID, t.Priority)
			}
			if err := ValidateState(t.State); err != nil {
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
			if err := t.Strategy.Validate(); err != nil {
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
		}
	}

	return validateAcyclic(p)
}

// validateAcyclic runs a DFS over the effective task graph. A node that
// depends on itself or on its enclosing phase is a cycle.
func validateAcyclic(p *WorkflowPlan) error {
	for _, ph := range p.Phases {
		for _, dep := range ph.DependsOn {
			if dep == ph.ID || p.PhaseOf(dep) == ph {
				return &CycleError{Path: []string{ph.ID, dep, ph.ID}}
			}
		}
		for _, t := range ph.Tasks {
			for _, dep := range t.DependsOn {
				if dep == ph.ID || dep == t.ID {
					return &CycleError{Path: []string{t.ID, dep, t.ID}}
				}
			}
		}
	}

	deps := make(map[string][]string)
	tasks := p.Tasks()
	for _, t := range tasks {
		deps[t.ID] = p.EffectiveDeps(t)
	}

	visiting := map[string]bool{}
	visited := map[string]bool{}
	var stack []string
	var dfs func(string) error
	dfs = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			path := append([]string{}, stack[start:]...)
			return &CycleError{Path: append(path, id)}
		}
		visiting[id] = true
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		visiting[id] = false
		visited[id] = true
		return nil
	}
	for _, t := range tasks {
		if err := dfs(t.ID); err != nil {
			return err
		}
	}
	return nil
}
