// Package rlog is the thin logging interface the core consumes: logging
// sinks are an external collaborator, so the engine and dispatcher depend
// only on this interface rather than any concrete backend. The default
// implementation is grounded on github.com/go-logr/logr, the leveled
// structured-logging facade several sibling reconciliation codebases in this
// ecosystem wire for exactly this purpose; With(kv...) maps onto logr's
// WithValues, and the printf-style call sites the core already uses are
// preserved by formatting the message before handing it to the sink.
package rlog

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// Logger is the logging surface the core calls. With returns a child logger
// that carries the given key/value pairs on every subsequent line, so the
// engine can attach (entity, source, ik) context without every call site
// repeating it.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	With(kv ...any) Logger
}

// logrLogger adapts logr.Logger to the printf-style Logger interface. logr
// has no native warn level, so Warnf logs at V(0) with an explicit "level"
// key, matching how leveled logr sinks elsewhere in this ecosystem surface
// warnings without a dedicated method.
type logrLogger struct {
	l logr.Logger
}

// New wraps an existing logr.Logger, e.g. one backed by zapr or logrusr in a
// host application that already has its own sink.
func New(l logr.Logger) Logger {
	return &logrLogger{l: l}
}

// NewStandard returns a Logger backed by logr's funcr sink writing to
// stderr, the default when the host application supplies no logr.Logger of
// its own.
func NewStandard() Logger {
	return New(funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintln(os.Stderr, prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{}))
}

func (g *logrLogger) Infof(format string, args ...any) {
	g.l.Info(fmt.Sprintf(format, args...))
}

func (g *logrLogger) Warnf(format string, args ...any) {
	g.l.V(0).Info(fmt.Sprintf(format, args...), "level", "warn")
}

func (g *logrLogger) Errorf(format string, args ...any) {
	g.l.Error(nil, fmt.Sprintf(format, args...))
}

func (g *logrLogger) With(kv ...any) Logger {
	return &logrLogger{l: g.l.WithValues(kv...)}
}

// Discard is a Logger that drops every line, useful for tests.
var Discard Logger = New(logr.Discard())
