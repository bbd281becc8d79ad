package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sleuth/internal/amend"
	"sleuth/internal/store"
)

var amendCmd = &cobra.Command{
	Use:   "amend <session-id> <request...>",
	Short: "Turn a free-text request into a plan change set",
	Long: `Translates a request such as "also check for lawsuits" into a change set
against the session's current plan and drops it into the inbox directory.
A session started with --inbox on the same directory applies it on its next
loop iteration.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAmend,
}

func runAmend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if !cfg.HasGenerator() {
		return errors.New("amend needs GEMINI_API_KEY to translate requests")
	}
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

	request := strings.Join(args[1:], " ")
	cs, err := amend.NewTranslator(eng.gen).Translate(ctx, s.Plan, request)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to encode change set: %w", err)
	}
	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}
	name := filepath.Join(inboxDir, time.Now().Format("20060102-150405.000")+".yaml")
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write change set: %w", err)
	}
	// The watcher ignores .tmp, so it only sees the finished file.
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to write change set: %w", err)
	}

	logger.Info("Change set queued", zap.String("session", s.ID), zap.String("file", name), zap.Int("changes", len(cs.Changes)))
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s", dimStyle.Render("Queued "+name), data)
	return nil
}
