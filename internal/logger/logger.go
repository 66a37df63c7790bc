// Package logger provides the structured logger used throughout objectfs.
//
// Output is either "text" or "json", mirroring the two slog handlers the
// daemon can be configured with. When a log file path is supplied, output
// is rotated with lumberjack instead of growing unbounded.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity mirrors the daemon's --log-severity flag vocabulary. It is kept
// distinct from slog.Level so that callers never need to know slog's
// numbering, only the six names the config layer accepts.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityOff
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityTrace, SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ParseSeverity accepts the case-insensitive names used on the CLI and in
// the config file: trace, debug, info, warning, error, off.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "trace":
		return SeverityTrace, nil
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "off":
		return SeverityOff, nil
	default:
		return 0, fmt.Errorf("logger: unknown severity %q", s)
	}
}

// Config controls how NewLogger builds a *slog.Logger.
type Config struct {
	// Format is "text" or "json". Anything else falls back to "text".
	Format string
	// Severity is the minimum level that is emitted.
	Severity Severity
	// FilePath, when non-empty, routes output through a rotating file
	// writer instead of os.Stderr.
	FilePath string
	// MaxSizeMB, MaxBackups, MaxAgeDays configure rotation; zero values
	// take lumberjack's own defaults (100MB, no backup limit, no age limit).
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu      sync.Mutex
	rotator *lumberjack.Logger
)

// NewLogger builds a *slog.Logger per cfg. The returned logger is safe for
// concurrent use, as slog.Logger always is.
func NewLogger(cfg Config) *slog.Logger {
	if cfg.Severity == SeverityOff {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		mu.Lock()
		rotator = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = rotator
		mu.Unlock()
	}

	opts := &slog.HandlerOptions{Level: cfg.Severity.slogLevel()}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Close releases the rotating file writer, if one was opened. It is safe
// to call even when NewLogger was never given a FilePath.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

// contextKey namespaces values objectfs stores on a context.Context.
type contextKey int

const loggerContextKey contextKey = iota

// WithLogger attaches l to ctx so call chains that only carry a context
// can still log with the fields their caller configured.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}

// FromContext returns the logger attached to ctx, or slog.Default() if
// none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
