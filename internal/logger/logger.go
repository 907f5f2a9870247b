// Package logger provides the structured logger every subsystem of blockfs
// writes through. It is grounded on gcsfuse's internal/logger package: a
// package-level slog.Logger behind a severity gate, with Tracef/Debugf/
// Infof/Warnf/Errorf helpers and a switchable text/JSON handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Severity levels, ordered the same way cfg.LogSeverity ranks them.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

const severityKey = "severity"

var severityNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

// factory owns the mutable logger configuration (format, level, output) so
// tests can redirect it, the way gcsfuse's loggerFactory does.
type factory struct {
	level  *slog.LevelVar
	format string // "text" or "json"
	out    io.Writer
}

var defaultFactory = &factory{
	level:  func() *slog.LevelVar { v := new(slog.LevelVar); v.Set(LevelInfo); return v }(),
	format: "text",
	out:    os.Stderr,
}

var defaultLogger = slog.New(defaultFactory.handler())

func (f *factory) handler() slog.Handler {
	opts := &slog.HandlerOptions{
		Level: f.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				if name, ok := severityNames[lvl]; ok {
					return slog.String(severityKey, name)
				}
			}
			return a
		},
	}

	if strings.EqualFold(f.format, "json") {
		return slog.NewJSONHandler(f.out, opts)
	}
	return slog.NewTextHandler(f.out, opts)
}

// SetSeverity sets the minimum severity that will be emitted. Valid values
// are TRACE, DEBUG, INFO, WARNING, ERROR, OFF (case-insensitive).
func SetSeverity(severity string) {
	var lvl slog.Level
	switch strings.ToUpper(severity) {
	case "TRACE":
		lvl = LevelTrace
	case "DEBUG":
		lvl = LevelDebug
	case "INFO":
		lvl = LevelInfo
	case "WARNING", "WARN":
		lvl = LevelWarn
	case "ERROR":
		lvl = LevelError
	case "OFF":
		lvl = LevelOff
	default:
		lvl = LevelInfo
	}
	defaultFactory.level.Set(lvl)
}

// SetFormat switches the output encoding ("text" or "json") and rebuilds
// the underlying slog.Logger.
func SetFormat(format string) {
	defaultFactory.format = format
	defaultLogger = slog.New(defaultFactory.handler())
}

// SetOutput redirects where log records are written; primarily for tests.
func SetOutput(w io.Writer) {
	defaultFactory.out = w
	defaultLogger = slog.New(defaultFactory.handler())
}

func logAttrs(level slog.Level, msg string, args ...any) {
	defaultLogger.LogAttrs(context.Background(), level, msg, argsToAttrs(args)...)
}

func argsToAttrs(args []any) []slog.Attr {
	if len(args) == 0 {
		return nil
	}
	attrs := make([]slog.Attr, 0, len(args)/2+1)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func Tracef(format string, args ...any) { logAttrs(LevelTrace, fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { logAttrs(LevelDebug, fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { logAttrs(LevelInfo, fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { logAttrs(LevelWarn, fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { logAttrs(LevelError, fmt.Sprintf(format, args...)) }

// TraceKV/DebugKV/... log a message plus structured key/value pairs, for
// call sites that want a sector/inode/path attached (e.g.
// logger.DebugKV("cache miss", "sector", sector)).
func TraceKV(msg string, kv ...any) { logAttrs(LevelTrace, msg, kv...) }
func DebugKV(msg string, kv ...any) { logAttrs(LevelDebug, msg, kv...) }
func InfoKV(msg string, kv ...any)  { logAttrs(LevelInfo, msg, kv...) }
func WarnKV(msg string, kv ...any)  { logAttrs(LevelWarn, msg, kv...) }
func ErrorKV(msg string, kv ...any) { logAttrs(LevelError, msg, kv...) }
