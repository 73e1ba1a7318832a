// Package obs holds observability helpers shared across the service.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide structured logger.
var Logger *slog.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// InitLogger replaces the default logger with a JSON handler at the
// configured level. Level names follow slog (debug/info/warn/error).
func InitLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(Logger)
}
