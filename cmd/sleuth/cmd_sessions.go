// Session listing and inspection commands.
package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"sleuth/internal/session"
	"sleuth/internal/store"
)

var showFindings bool

// sessionsCmd lists saved sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved research sessions",
	Long: `List saved research sessions.

Subcommands:
  list   - List all saved sessions`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved sessions",
	RunE:  runSessionsList,
}

// showCmd prints one session in detail
var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the plan, conflicts and scores of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	list, err := eng.store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	out := cmd.OutOrStdout()
	renderSummaries(out, list)
	if len(list) > 0 {
		fmt.Fprintln(out, strings.Repeat("─", 50))
		fmt.Fprintf(out, "Total: %d sessions\n", len(list))
		fmt.Fprintln(out, "\nUse: sleuth show <session-id>")
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	s, err := eng.store.Load(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no session %s", args[0])
		}
		return err
	}
	renderSession(cmd.OutOrStdout(), s, showFindings)
	return nil
}

func renderSession(w io.Writer, s *session.Session, findings bool) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Session"), s.ID)
	fmt.Fprintf(w, "Query:   %s\n", s.Query)
	fmt.Fprintf(w, "Status:  %s", statusStyle(s.Status).Render(string(s.Status)))
	if s.FailureReason != "" {
		fmt.Fprintf(w, " (%s)", s.FailureReason)
	}
	fmt.Fprintf(w, "\nUpdated: %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))
	if s.Aggregate != nil {
		fmt.Fprintf(w, "Confidence: %.2f over %d findings\n", s.Aggregate.Value, s.Aggregate.Findings)
	}
	fmt.Fprintln(w)
	renderPlan(w, s.Plan)

	if len(s.Conflicts) > 0 {
		fmt.Fprintln(w, "\n"+titleStyle.Render("Conflicts"))
		for _, c := range s.Conflicts {
			st := warnStyle.Render(string(c.Status))
			if !c.IsOpen() {
				st = okStyle.Render(string(c.Status))
			}
			fmt.Fprintf(w, "  %s %s.%s %s\n", st, c.Subject, c.Attribute, dimStyle.Render(string(c.Severity)))
			for _, id := range c.MemberFindingIDs {
				if f, ok := s.Finding(id); ok {
					fmt.Fprintf(w, "    %q %s\n", f.Claim, dimStyle.Render(f.SourceURL))
				}
			}
			if c.Resolution != nil {
				fmt.Fprintf(w, "    %s\n", dimStyle.Render("resolved: "+c.Resolution.Reason))
			}
		}
	}

	if len(s.Scores) > 0 {
		fmt.Fprintln(w, "\n"+titleStyle.Render("Scores"))
		scores := append(s.Scores[:0:0], s.Scores...)
		sort.Slice(scores, func(i, j int) bool {
			if scores[i].Subject != scores[j].Subject {
				return scores[i].Subject < scores[j].Subject
			}
			return scores[i].Attribute < scores[j].Attribute
		})
		for _, sc := range scores {
			fmt.Fprintf(w, "  %.2f %s.%s %s\n", sc.Value, sc.Subject, sc.Attribute, dimStyle.Render(fmt.Sprintf("(%d findings)", sc.Findings)))
		}
	}

	if findings {
		fmt.Fprintln(w, "\n"+titleStyle.Render("Findings"))
		for _, f := range s.Findings {
			fmt.Fprintf(w, "  %s.%s = %q\n", f.Subject, f.Attribute, f.Claim)
			fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("%s credibility %.2f relevance %.2f node %s",
				f.SourceURL, f.SourceCredibility, f.RelevanceScore, f.ProducingNodeID)))
		}
	}
}
