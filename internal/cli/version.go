package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kon-rad/agent-tracker/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agent-tracker %s\n", Version)
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "List configuration variables and their defaults",
	Run: func(cmd *cobra.Command, _ []string) {
		config.WriteHelp(cmd.OutOrStdout(), Version)
	},
}
