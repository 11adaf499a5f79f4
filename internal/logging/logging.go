package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelVar = new(slog.LevelVar)

// Setup installs a JSON logger on stdout as the process default.
func Setup(level string) (*slog.Logger, error) {
	return SetupWriter(os.Stdout, level)
}

func SetupWriter(w io.Writer, level string) (*slog.Logger, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}
	if err := levelVar.UnmarshalText([]byte(normalized)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelVar,
	})
	logger := slog.New(handler).With("service", "agent-tracker")
	slog.SetDefault(logger)
	return logger, nil
}
