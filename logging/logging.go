// Package logging provides the leveled logger shared by the control core and
// its surfaces. It is backed by log/slog and can write to a terminal stream and
// a log file at independent levels.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the printf-style logger passed to every component.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(key string, value interface{}) Logger
}

// Config controls the stream and file outputs.
type Config struct {
	Level     string `yaml:"level"`      // stream level: debug, info, warn, error
	File      string `yaml:"file"`       // optional log file
	FileLevel string `yaml:"file_level"` // defaults to debug
	Format    string `yaml:"format"`     // text or json
}

// New builds a logger writing to stream and, when cfg.File is set, to that file.
// The returned closer releases the file and is never nil.
func New(cfg Config, stream io.Writer) (Logger, io.Closer, error) {
	if stream == nil {
		stream = os.Stdout
	}

	handlers := []slog.Handler{newHandler(cfg.Format, stream, ParseLevel(cfg.Level))}
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, closer, fmt.Errorf("open log file: %w", err)
		}
		fileLevel := cfg.FileLevel
		if fileLevel == "" {
			fileLevel = "debug"
		}
		handlers = append(handlers, newHandler(cfg.Format, f, ParseLevel(fileLevel)))
		closer = f
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = teeHandler(handlers)
	}
	return &slogger{l: slog.New(h)}, closer, nil
}

// NewStream is New without a file output.
func NewStream(level string, stream io.Writer) Logger {
	return &slogger{l: slog.New(newHandler("text", stream, ParseLevel(level)))}
}

// Noop returns a logger that drops everything.
func Noop() Logger { return noopLogger{} }

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type slogger struct {
	l *slog.Logger
}

func (s *slogger) log(level slog.Level, format string, args []interface{}) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (s *slogger) Debugf(format string, args ...interface{}) { s.log(slog.LevelDebug, format, args) }
func (s *slogger) Infof(format string, args ...interface{})  { s.log(slog.LevelInfo, format, args) }
func (s *slogger) Warnf(format string, args ...interface{})  { s.log(slog.LevelWarn, format, args) }
func (s *slogger) Errorf(format string, args ...interface{}) { s.log(slog.LevelError, format, args) }

func (s *slogger) With(key string, value interface{}) Logger {
	return &slogger{l: s.l.With(key, value)}
}

// teeHandler fans records out to several handlers, each keeping its own level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{})     {}
func (noopLogger) Infof(string, ...interface{})      {}
func (noopLogger) Warnf(string, ...interface{})      {}
func (noopLogger) Errorf(string, ...interface{})     {}
func (n noopLogger) With(string, interface{}) Logger { return n }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
