package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sleuth/internal/events"
	"sleuth/internal/orchestrator"
	"sleuth/internal/plan"
	"sleuth/internal/session"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
	findingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// renderEvent writes one progress line for ev. Unknown events are ignored.
func renderEvent(w io.Writer, ev events.Event) {
	ts := dimStyle.Render(ev.Time.Format("15:04:05"))
	var line string
	switch p := ev.Payload.(type) {
	case events.PlanPayload:
		line = titleStyle.Render(fmt.Sprintf("plan %s v%d", p.PlanID, p.Version)) + dimStyle.Render(fmt.Sprintf(" (%d tasks)", p.Tasks))
	case events.NodePayload:
		line = fmt.Sprintf("%s %s", nodeStyle(plan.NodeState(p.To)).Render(fmt.Sprintf("%-9s", p.To)), ev.NodeID)
		if p.Reason != "" {
			line += dimStyle.Render(" " + p.Reason)
		}
		if p.Attempts > 1 {
			line += dimStyle.Render(fmt.Sprintf(" attempt %d", p.Attempts))
		}
	case events.FindingPayload:
		line = findingStyle.Render("finding  ") + fmt.Sprintf("%s.%s = %s", p.Subject, p.Attribute, p.Claim) +
			dimStyle.Render(fmt.Sprintf(" (%s, confidence %.2f)", p.SourceURL, p.Confidence))
	case events.ConflictPayload:
		switch {
		case ev.Type == events.ConflictResolved:
			line = okStyle.Render("resolved ") + fmt.Sprintf("%s.%s", p.Subject, p.Attribute) + dimStyle.Render(" by "+p.ResolvedBy)
		case p.Reopened:
			line = warnStyle.Render("reopened ") + fmt.Sprintf("%s.%s (%s)", p.Subject, p.Attribute, p.Severity)
		default:
			line = warnStyle.Render("conflict ") + fmt.Sprintf("%s.%s (%s, %d findings)", p.Subject, p.Attribute, p.Severity, len(p.Members))
		}
	case events.SessionPayload:
		switch ev.Type {
		case events.SessionCheckpointed:
			line = dimStyle.Render(fmt.Sprintf("checkpointed (%s)", p.Status))
		case events.SessionCompleted:
			line = okStyle.Render(fmt.Sprintf("completed, confidence %.2f", p.Confidence))
		case events.SessionFailed:
			line = errStyle.Render("failed: " + p.Reason)
		}
	}
	if line == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ts, line)
}

func nodeStyle(s plan.NodeState) lipgloss.Style {
	switch s {
	case plan.StateCompleted:
		return okStyle
	case plan.StateFailed:
		return errStyle
	case plan.StateSkipped:
		return warnStyle
	case plan.StateRunning:
		return findingStyle
	}
	return dimStyle
}

var stateOrder = []plan.NodeState{plan.StateCompleted, plan.StateFailed, plan.StateSkipped, plan.StateRunning, plan.StateReady, plan.StatePending}

func countsLine(counts map[plan.NodeState]int) string {
	var parts []string
	for _, st := range stateOrder {
		if n := counts[st]; n > 0 {
			parts = append(parts, nodeStyle(st).Render(fmt.Sprintf("%d %s", n, st)))
		}
	}
	return strings.Join(parts, ", ")
}

func renderOutcome(w io.Writer, out *orchestrator.Outcome) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", titleStyle.Render("Session"), out.SessionID)
	fmt.Fprintf(&sb, "Status:     %s", statusStyle(out.Status).Render(string(out.Status)))
	if out.Reason != "" {
		fmt.Fprintf(&sb, " (%s)", out.Reason)
	}
	fmt.Fprintf(&sb, "\nNodes:      %s\n", countsLine(out.Nodes))
	fmt.Fprintf(&sb, "Findings:   %d\n", out.Findings)
	if out.Aggregate != nil {
		fmt.Fprintf(&sb, "Confidence: %.2f\n", out.Aggregate.Value)
	}
	for _, t := range out.FailedNodes {
		msg := ""
		if t.LastError != nil {
			msg = t.LastError.Error()
		}
		fmt.Fprintf(&sb, "%s %s %s\n", errStyle.Render("failed"), t.ID, dimStyle.Render(msg))
	}
	for _, c := range out.OpenConflicts {
		fmt.Fprintf(&sb, "%s %s.%s (%s, %d findings)\n", warnStyle.Render("open conflict"), c.Subject, c.Attribute, c.Severity, len(c.MemberFindingIDs))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(sb.String(), "\n")))
}

func statusStyle(s session.Status) lipgloss.Style {
	switch s {
	case session.StatusCompleted:
		return okStyle
	case session.StatusFailed:
		return errStyle
	case session.StatusPaused:
		return warnStyle
	}
	return dimStyle
}

func renderPlan(w io.Writer, p *plan.WorkflowPlan) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Plan %s v%d", p.ID, p.Version))+dimStyle.Render(" "+p.Query))
	for _, ph := range p.Phases {
		deps := ""
		if len(ph.DependsOn) > 0 {
			deps = dimStyle.Render(" after " + strings.Join(ph.DependsOn, ", "))
		}
		fmt.Fprintf(w, "  %s%s\n", ph.Title, deps)
		for _, t := range ph.Tasks {
			fmt.Fprintf(w, "    %s %s %s\n", nodeStyle(t.State).Render(fmt.Sprintf("%-9s", t.State)), t.ID,
				dimStyle.Render(fmt.Sprintf("[%s p%d]", t.Strategy.Kind, t.Priority)))
		}
	}
}

func renderSummaries(w io.Writer, list []session.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No saved sessions found.")
		return
	}
	session.SortSummaries(list)
	for _, s := range list {
		fmt.Fprintf(w, "%s %s %s\n", s.ID, statusStyle(s.Status).Render(fmt.Sprintf("%-9s", s.Status)), s.Query)
		fmt.Fprintf(w, "    %s %s\n", countsLine(s.Nodes),
			dimStyle.Render(fmt.Sprintf("| %d findings, %d open conflicts, confidence %.2f, updated %s",
				s.Findings, s.OpenConflicts, s.Confidence, s.UpdatedAt.Format("2006-01-02 15:04"))))
	}
}
