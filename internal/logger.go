package internal

import (
	"io"
	"log/slog"
	"strings"
)

// redactedKeys are attribute keys whose values are incident content. They
// never reach a log sink.
var redactedKeys = map[string]bool{
	"narrative": true,
	"parties":   true,
	"children":  true,
	"base64":    true,
	"record":    true,
}

const redacted = "[redacted]"

// NewLogger builds the process logger: text in development, JSON
// elsewhere. Every record carries the binary name under "component", and
// incident content passed as an attribute is replaced with "[redacted]".
func NewLogger(w io.Writer, env, level, component string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redactIncidentContent,
	}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactIncidentContent(groups []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}
