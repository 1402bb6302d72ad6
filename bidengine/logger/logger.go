package logger

import (
	"log/slog"
	"os"
)

// Setup installs the process-wide slog handler. Format is "json" or "text";
// anything else falls back to text.
func Setup(level slog.Level, format string, addSource bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
