// Package cli provides the agent-tracker command line.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kon-rad/agent-tracker/internal/config"
	"github.com/kon-rad/agent-tracker/internal/logging"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "agent-tracker",
	Short: "Agent event tracking and analytics service",
	Long: `agent-tracker records agent interaction events, keeps per-agent daily
aggregates and serves time series, conversation and trace views over HTTP.

Configuration is read from AGT_* environment variables and an optional
dotenv file. Run "agent-tracker env" to list them.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment (missing file is ignored)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadRuntimeConfig reads configuration and installs the process logger.
func loadRuntimeConfig(ctx context.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(ctx, envFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
