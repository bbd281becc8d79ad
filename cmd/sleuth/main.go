// Command sleuth runs research sessions from the terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sleuth/internal/config"
	"sleuth/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	envFile    string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sleuth",
	Short: "sleuth - research-query orchestration engine",
	Long: `sleuth investigates a research query about companies and people.

It analyzes the query, builds a dependency-ordered research plan, runs the
tasks concurrently against a search provider, detects contradictions between
findings, scores confidence, and checkpoints the session so an interrupted
run can be resumed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logging.Initialize(cfg.Logging); err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		_ = logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".sleuth/config.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall deadline (0 uses the configured session timeout)")

	researchCmd.Flags().StringVar(&inboxDir, "inbox", "", "Directory watched for plan change-set files")
	researchCmd.Flags().StringVar(&sseAddr, "sse", "", "Serve progress events at http://<addr>/events")
	researchCmd.Flags().BoolVar(&planOnly, "plan-only", false, "Print the plan without running it")
	resumeCmd.Flags().StringVar(&inboxDir, "inbox", "", "Directory watched for plan change-set files")
	resumeCmd.Flags().StringVar(&sseAddr, "sse", "", "Serve progress events at http://<addr>/events")
	for _, c := range []*cobra.Command{researchCmd, resumeCmd} {
		c.Flags().BoolVar(&useTUI, "tui", false, "Show a live progress view instead of event lines")
	}
	showCmd.Flags().BoolVar(&showFindings, "findings", false, "List every finding")
	amendCmd.Flags().StringVar(&inboxDir, "inbox", ".sleuth/inbox", "Inbox directory of the running session")

	sessionsCmd.AddCommand(sessionsListCmd)

	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(amendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
