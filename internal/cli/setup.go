package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kon-rad/agent-tracker/internal/app"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create backend schema and indexes, then exit",
	Long: `Setup provisions the configured backends:

- sqlite: creates the database file and tables
- redis: verifies connectivity
- mongo: creates the events and spans indexes

It is safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntimeConfig(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.BackendTimeout*3)
		defer cancel()
		if err := app.Provision(ctx, cfg, logger); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "backends ready")
		return nil
	},
}
