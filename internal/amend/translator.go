package amend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sleuth/internal/logging"
	"sleuth/internal/plan"
	"sleuth/internal/provider"
)

const translatePrompt = `You amend research plans. Convert the request into a JSON change set.

Allowed ops: add_task, replace_task, add_phase, set_depends_on, set_estimate, skip_task.
Strategy kinds: web_search, financial, legal, osint, verification.
Only nodes in state pending or ready may be changed, except set_estimate.

Schema:
{"reason": "...", "changes": [{"op": "...", "target": "task id", "phase": "phase id",
  "task": {"id": "...", "title": "...", "subject": "...", "priority": 1-10, "depends_on": [],
           "strategy": {"kind": "...", "queries": ["{entity} ..."], "attributes": []}, "estimate": "5m"},
  "new_phase": {"id": "...", "title": "...", "depends_on": [], "tasks": []},
  "depends_on": [], "estimate": "..."}]}

Current plan:
%s
Request: %s

Return ONLY the JSON object.`

// Translator turns a free-text amendment request into a change set. The
// result is dry-run against the plan before it is returned.
type Translator struct {
	gen provider.Generator
}

// NewTranslator creates a Translator.
func NewTranslator(gen provider.Generator) *Translator {
	return &Translator{gen: gen}
}

// Translate returns a change set that applies cleanly to p.
func (t *Translator) Translate(ctx context.Context, p *plan.WorkflowPlan, request string) (plan.ChangeSet, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Translate")
	defer timer.Stop()

	request = strings.TrimSpace(request)
	if request == "" {
		return plan.ChangeSet{}, plan.ErrEmptyChange
	}
	resp, err := t.gen.Generate(ctx, fmt.Sprintf(translatePrompt, describe(p), request))
	if err != nil {
		return plan.ChangeSet{}, fmt.Errorf("failed to translate amendment: %w", err)
	}

	var cs plan.ChangeSet
	if err := json.Unmarshal([]byte(extractJSON(resp)), &cs); err != nil {
		return plan.ChangeSet{}, fmt.Errorf("failed to parse translated amendment: %w", err)
	}
	if cs.Reason == "" {
		cs.Reason = request
	}
	if _, err := plan.Modify(p, cs); err != nil {
		return plan.ChangeSet{}, fmt.Errorf("translated amendment does not apply: %w", err)
	}
	logging.PlannerDebug("Translated %q into %d changes", request, len(cs.Changes))
	return cs, nil
}

func describe(p *plan.WorkflowPlan) string {
	var sb strings.Builder
	for _, ph := range p.Phases {
		fmt.Fprintf(&sb, "phase %s %q depends_on=%v\n", ph.ID, ph.Title, ph.DependsOn)
		for _, t := range ph.Tasks {
			fmt.Fprintf(&sb, "  task %s %q kind=%s subject=%q state=%s depends_on=%v\n",
				t.ID, t.Title, t.Strategy.Kind, t.Subject, t.State, t.DependsOn)
		}
	}
	return sb.String()
}

func extractJSON(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	if start, end := strings.Index(resp, "{"), strings.LastIndex(resp, "}"); start >= 0 && end > start {
		resp = resp[start : end+1]
	}
	return resp
}
