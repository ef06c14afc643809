// Package logger is the structured logger shared by every binary. Request-scoped
// fields ride on the context, so handlers and services log with whatever the
// middleware already attached.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New. WarnStack attaches stack traces to warnings as well as
// errors; Console renders human-readable lines instead of JSON.
type Options struct {
	ServiceName string
	Environment string
	Level       zerolog.Level
	WarnStack   bool
	Console     bool
	Output      io.Writer
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	fields := zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName)
	if opts.Environment != "" {
		fields = fields.Str("env", opts.Environment)
	}
	return &Logger{base: fields.Logger(), warnStack: opts.WarnStack}
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{ServiceName: "nop", Output: io.Discard, Level: zerolog.Disabled})
}

// ParseLevel maps a config string to a level, falling back to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return entry
		}
	}
	return &l.base
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.WithFields(ctx, map[string]any{key: value})
}

// WithFields returns a context whose log lines carry fields. Keys are added in
// sorted order so output is stable.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	builder := l.from(ctx).With()
	for _, k := range keys {
		builder = builder.Interface(k, fields[k])
	}
	entry := builder.Logger()
	return context.WithValue(ctx, ctxKey{}, &entry)
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "request_id", id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "user_id", id)
}

func (l *Logger) WithAgencyID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "agency_id", id)
}

func (l *Logger) WithApplicationID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "application_id", id)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, "actor_role", role)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	l.emit(l.from(ctx).Warn(), nil, l.warnStack, msg)
}

// WarnErr is for degraded paths that keep going: the cause is logged but the
// request still succeeds.
func (l *Logger) WarnErr(ctx context.Context, msg string, err error) {
	l.emit(l.from(ctx).Warn(), err, l.warnStack, msg)
}

// Error always carries a stack trace.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.emit(l.from(ctx).Error(), err, true, msg)
}

func (l *Logger) emit(event *zerolog.Event, err error, stack bool, msg string) {
	if event == nil {
		return
	}
	if err != nil {
		event = event.Err(err)
	}
	if stack {
		event = event.Str("stack", strings.TrimSpace(string(debug.Stack())))
	}
	event.Msg(msg)
}
