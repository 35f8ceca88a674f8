package runtime

import (
	"log/slog"
	"os"
	"strings"

	"github.com/jorgekeles/sistema-barberia/internal/config"
)

// NewLogger builds the process-wide JSON logger. Every line carries the
// service name so booking, outbox and notification output can be told apart
// in a shared log stream. LOG_LEVEL selects the threshold, default info.
func NewLogger(service string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(config.String("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}
