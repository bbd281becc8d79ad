package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sleuth/internal/amend"
	"sleuth/internal/confidence"
	"sleuth/internal/conflict"
	"sleuth/internal/events"
	"sleuth/internal/orchestrator"
	"sleuth/internal/session"
	"sleuth/internal/store"
)

var (
	inboxDir string
	sseAddr  string
	planOnly bool
	useTUI   bool
)

var researchCmd = &cobra.Command{
	Use:   "research [query]",
	Short: "Investigate a research query",
	Long: `Analyzes the query, builds a research plan and runs it.

Press Ctrl-C once to stop gracefully: running tasks get the configured grace
period and the session is saved as paused. Press Ctrl-C again to stop
immediately. With --tui the same keys work from the progress view, and
q does the same as Ctrl-C.

Example:
  sleuth research "Is Acme Corp financially healthy?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused or interrupted session",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	eng, err := newEngine(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	logger.Info("Analyzing query", zap.String("query", query))
	a, err := eng.analyzer.Analyze(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to analyze query: %w", err)
	}
	if a.Degraded {
		logger.Warn("Analysis degraded, using a minimal plan")
	}
	p, err := eng.builder.Build(a)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}
	if planOnly {
		renderPlan(cmd.OutOrStdout(), p)
		return nil
	}

	s := session.New(query, a, p, time.Now())
	logger.Info("Session created", zap.String("session", s.ID), zap.Int("tasks", len(p.Tasks())))
	return drive(ctx, cmd, eng, s)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := newEngine(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	s, err := eng.store.Load(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no session %s", args[0])
		}
		return err
	}
	if s.Status == session.StatusCompleted {
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s is already completed.\n", s.ID)
		return nil
	}
	logger.Info("Resuming session", zap.String("session", s.ID), zap.String("status", string(s.Status)))
	return drive(ctx, cmd, eng, s)
}

// drive runs s to completion or cancellation, rendering progress.
func drive(ctx context.Context, cmd *cobra.Command, eng *engine, s *session.Session) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out := cmd.OutOrStdout()

	bus := events.NewBus()
	feed, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	sink := events.Multi(bus, events.LogSink())
	cp := store.NewCheckpointer(eng.store,
		store.WithSaveTimeout(cfg.GetSaveTimeout()),
		store.WithOnSaved(orchestrator.CheckpointEvents(sink)),
	)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.GetSaveTimeout())
		defer cancel()
		if err := cp.Close(cctx); err != nil {
			logger.Warn("Checkpointer close failed", zap.Error(err))
		}
	}()

	orc := orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Executor:     eng.executor,
		Detector:     conflict.New(cfg.ConflictConfig()),
		Scorer:       confidence.New(cfg.ScorerConfig()),
		Checkpointer: cp,
		Events:       sink,
	})

	stopSignals := handleSignals(orc)
	defer stopSignals()

	if inboxDir != "" {
		w, err := amend.NewWatcher(inboxDir, orc)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		fmt.Fprintln(out, dimStyle.Render("Watching "+inboxDir+" for plan amendments"))
	}

	if sseAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", events.SSEHandler(bus))
		srv := &http.Server{Addr: sseAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Event server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logger.Info("Serving events", zap.String("addr", sseAddr))
	}

	// The feed is drained to the end so the renderer never blocks the bus.
	rendered := make(chan struct{})
	if useTUI {
		ui := tea.NewProgram(newProgressModel(s.Plan, feed, orc.Cancel), tea.WithOutput(out))
		go func() {
			defer close(rendered)
			if _, err := ui.Run(); err != nil {
				logger.Warn("Progress view failed", zap.Error(err))
			}
			for range feed {
			}
		}()
	} else {
		go func() {
			defer close(rendered)
			for ev := range feed {
				renderEvent(out, ev)
			}
		}()
	}

	outcome, err := orc.Run(ctx, s)
	bus.Close()
	<-rendered

	if outcome != nil {
		renderOutcome(out, outcome)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orchestrator.ErrCancelled) && outcome != nil && outcome.Status == session.StatusPaused,
		errors.Is(err, orchestrator.ErrSessionTimeout):
		fmt.Fprintf(out, "Paused. Resume with: sleuth resume %s\n", s.ID)
		return nil
	}
	return err
}

// handleSignals maps the first interrupt to a graceful cancel and the
// second to a forced one. The returned func stops listening.
func handleSignals(orc *orchestrator.Orchestrator) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		mode := orchestrator.CancelGraceful
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				logger.Info("Received signal", zap.String("signal", sig.String()), zap.String("mode", mode.String()))
				if err := orc.Cancel(mode); err != nil {
					logger.Debug("Cancel ignored", zap.Error(err))
				}
				mode = orchestrator.CancelForced
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
