package events

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Log output formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

var sensitiveKeys = []string{"password", "secret", "token", "dsn", "iam_role"}

// NewLogger builds a slog logger writing to w in the given format and level.
// Attributes whose key looks sensitive are redacted.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactSensitiveData,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}

// ParseLevel maps DEBUG|INFO|WARN|WARNING|ERROR (any case) to a slog level.
// An empty string means INFO.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func redactSensitiveData(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}
