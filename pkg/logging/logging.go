// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password": true, "access_key": true, "secret_access_key": true, "token": true,
	"session_token": true, "secret": true, "api_key": true, "private_key": true,
	"auth_token": true, "refresh_token": true, "client_secret": true, "certificate": true,
	"signature": true, "credential": true, "connection_string": true, "dsn": true,
}

// New returns a logger writing to w. format is "json" (default) or "text"; level is one
// of debug, info, warn, error.
func New(format, level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: Redact}

	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or text)", format)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Redact scrubs sensitive keys. It is a slog.HandlerOptions.ReplaceAttr.
func Redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}
