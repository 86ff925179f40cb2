// cli.go holds the analyst CLI entrypoint (Main), root flags and shared command plumbing.
package analystcli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/contenox/analyst/libtracker"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...analystcli.Version=...".
var Version = "dev"

// Main runs the analyst CLI.
func Main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Turn orchestrator for a data-analysis agent.",
	Long: `Analyst plans, validates and executes the actions a model proposes against a
spreadsheet and a board of charts. State is stored in SQLite.

  analyst replay demo.yaml              # replay recorded model turns
  analyst replay --live demo.yaml       # same requests against Ollama
  analyst validate batch.json -m "..."  # one orchestrator pass over a batch
  analyst plan show --session <id>
  analyst trace list --session <id>
  analyst trace watch --session <id> --nats-url nats://localhost:4222`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "analyst "+Version)
	},
}

func init() {
	def := defaultConfig()
	f := rootCmd.PersistentFlags()
	f.String("db", "", "SQLite database path (default: .analyst/local.db)")
	f.String("ollama", def.Ollama, "Ollama base URL")
	f.String("model", def.Model, "Model name")
	f.String("nats-url", "", "Publish trace and plan events to this NATS server (default: in-memory)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.Int("max-turns", def.MaxTotalTurns, "Maximum model turns per run")
	f.Duration("timeout", def.Timeout, "Maximum time per command")
	f.Bool("trace", false, "Log operation telemetry on stderr")
	f.BoolP("verbose", "v", false, "Debug logging")

	planCmd.AddCommand(planShowCmd)
	traceCmd.AddCommand(traceListCmd)
	rootCmd.AddCommand(replayCmd, validateCmd, planCmd, traceCmd, sessionCmd, versionCmd)
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func resolveConfig(cmd *cobra.Command) (localConfig, string, error) {
	cfg, path, err := loadLocalConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return localConfig{}, "", err
	}
	cfg.applyFlags(cmd.Flags())
	return cfg, path, nil
}

func traceEnabled(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("trace")
	return on
}

// commandContext carries a request id, the configured timeout, and cancels
// on SIGINT/SIGTERM.
func commandContext(cfg localConfig) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(libtracker.WithNewRequestID(context.Background()), cfg.Timeout)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Warn("Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
