package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"hydrobloom-server/internal/config"
)

// New builds the process logger: colored tint output for dev builds and
// JSON everywhere else. Every record carries the monitored farm's name.
func New(cfg config.Config, w io.Writer, version string, appName string) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName, "farm", cfg.Farm.Name)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"farm", cfg.Farm.Name,
	)
}
