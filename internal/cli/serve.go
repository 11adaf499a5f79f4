package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kon-rad/agent-tracker/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadRuntimeConfig(ctx)
	if err != nil {
		return err
	}
	logger.Info("starting agent-tracker",
		"version", Version,
		"port", cfg.Port,
		"kv_backend", cfg.KVBackend,
		"search_backend", cfg.SearchBackend,
	)
	return app.New(cfg, logger, Version).Run(ctx)
}
