package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sleuth/internal/events"
	"sleuth/internal/orchestrator"
	"sleuth/internal/plan"
	"sleuth/internal/session"
)

// maxRecentLines caps the activity log under the progress bars.
const maxRecentLines = 8

type (
	eventMsg  events.Event
	feedEnded struct{}
)

// progressModel is the --tui view of a running session. It only reads the
// event feed; control goes back through cancel.
type progressModel struct {
	feed   <-chan events.Event
	cancel func(orchestrator.CancelMode) error

	spinner  spinner.Model
	overall  progress.Model
	started  time.Time
	now      func() time.Time
	planName string

	states    map[string]plan.NodeState
	phases    []string
	findings  int
	conflicts int
	recent    []string
	stops     int
	final     string
	ended     bool
}

func newProgressModel(p *plan.WorkflowPlan, feed <-chan events.Event, cancel func(orchestrator.CancelMode) error) progressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = findingStyle

	m := progressModel{
		feed:    feed,
		cancel:  cancel,
		spinner: sp,
		overall: progress.New(progress.WithDefaultGradient()),
		now:     time.Now,
		states:  make(map[string]plan.NodeState),
	}
	m.started = m.now()
	if p != nil {
		m.planName = fmt.Sprintf("%s v%d", p.ID, p.Version)
		for _, t := range p.Tasks() {
			m.track(t.ID, t.State)
		}
	}
	return m
}

func (m progressModel) listen() tea.Cmd {
	feed := m.feed
	return func() tea.Msg {
		ev, ok := <-feed
		if !ok {
			return feedEnded{}
		}
		return eventMsg(ev)
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// First press pauses, second forces.
			mode := orchestrator.CancelGraceful
			if m.stops > 0 {
				mode = orchestrator.CancelForced
			}
			m.stops++
			if m.cancel != nil {
				_ = m.cancel(mode)
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.overall.Width = max(10, msg.Width-20)
		return m, nil

	case spinner.TickMsg:
		if m.ended {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.overall.Update(msg)
		m.overall = pm.(progress.Model)
		return m, cmd

	case eventMsg:
		m.apply(events.Event(msg))
		return m, m.listen()

	case feedEnded:
		m.ended = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *progressModel) apply(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.PlanPayload:
		m.planName = fmt.Sprintf("%s v%d", p.PlanID, p.Version)
	case events.NodePayload:
		m.track(ev.NodeID, plan.NodeState(p.To))
	case events.FindingPayload:
		m.findings++
	case events.ConflictPayload:
		if ev.Type == events.ConflictResolved {
			m.conflicts--
		} else {
			m.conflicts++
		}
	case events.SessionPayload:
		if ev.Type == events.SessionCompleted || ev.Type == events.SessionFailed {
			m.final = p.Status
		}
	}

	var sb strings.Builder
	renderEvent(&sb, ev)
	if line := strings.TrimRight(sb.String(), "\n"); line != "" {
		m.recent = append(m.recent, line)
		if len(m.recent) > maxRecentLines {
			m.recent = m.recent[len(m.recent)-maxRecentLines:]
		}
	}
}

func (m *progressModel) track(id string, st plan.NodeState) {
	if _, ok := m.states[id]; !ok {
		if ph := phaseOf(id); ph != "" && !containsString(m.phases, ph) {
			m.phases = append(m.phases, ph)
		}
	}
	m.states[id] = st
}

func phaseOf(id string) string {
	ph, _, ok := strings.Cut(id, "/")
	if !ok {
		return ""
	}
	return ph
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// fraction reports how many of the nodes matching phase ("" for all) are
// settled.
func (m progressModel) fraction(phase string) (settled, total int) {
	for id, st := range m.states {
		if phase != "" && phaseOf(id) != phase {
			continue
		}
		total++
		if !st.Unfinished() {
			settled++
		}
	}
	return settled, total
}

func (m progressModel) View() string {
	var sb strings.Builder

	head := titleStyle.Render("Researching")
	if m.planName != "" {
		head += dimStyle.Render(" " + m.planName)
	}
	if !m.ended {
		head = m.spinner.View() + " " + head
	}
	elapsed := m.now().Sub(m.started).Truncate(time.Second)
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, head, dimStyle.Render(fmt.Sprintf("  %s", elapsed))) + "\n\n")

	settled, total := m.fraction("")
	pct := 0.0
	if total > 0 {
		pct = float64(settled) / float64(total)
	}
	sb.WriteString(m.overall.ViewAs(pct) + dimStyle.Render(fmt.Sprintf("  %d/%d tasks", settled, total)) + "\n")

	counts := make(map[plan.NodeState]int)
	for _, st := range m.states {
		counts[st]++
	}
	sb.WriteString(countsLine(counts) + "\n\n")

	for _, ph := range m.phases {
		done, n := m.fraction(ph)
		style := dimStyle
		if done == n {
			style = okStyle
		}
		sb.WriteString(fmt.Sprintf("  %-16s %s\n", ph, style.Render(fmt.Sprintf("%d/%d", done, n))))
	}

	sb.WriteString(fmt.Sprintf("\n%s %d   %s %d\n\n",
		findingStyle.Render("findings"), m.findings, warnStyle.Render("open conflicts"), max(0, m.conflicts)))

	for _, line := range m.recent {
		sb.WriteString(line + "\n")
	}

	switch {
	case m.final != "":
		sb.WriteString("\n" + statusStyle(session.Status(m.final)).Render(m.final) + "\n")
	case m.stops == 1:
		sb.WriteString("\n" + warnStyle.Render("Stopping, running tasks get a grace period. Press q again to force.") + "\n")
	case m.stops > 1:
		sb.WriteString("\n" + errStyle.Render("Forcing stop.") + "\n")
	default:
		sb.WriteString("\n" + dimStyle.Render("q: pause and save") + "\n")
	}
	return sb.String()
}
