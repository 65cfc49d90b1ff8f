package logger

import (
	"io"
	"log/slog"
	"os"
)

func New(env string) *slog.Logger { return NewWithWriter(env, os.Stdout) }

// NewWithWriter picks JSON output in prod and debug-level text otherwise.
func NewWithWriter(env string, w io.Writer) *slog.Logger {
	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h).With("service", "wallet-ledger")
}
