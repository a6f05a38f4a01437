// Package corelog defines the logging seam used across APEX components.
// Components never depend on a concrete logging library directly; they
// accept a Logger so callers can plug in zerolog, logrus, zap, or a test
// recorder, following the same narrow-interface pattern the teacher's
// rule engine uses for its own Config.Logger.
package corelog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging seam consumed by every APEX package.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// With returns a derived Logger that carries fields on every entry,
	// e.g. With(map[string]any{"ruleId": "r1"}).
	With(fields map[string]any) Logger
}

// zerologLogger adapts *zerolog.Logger to the Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger builds the production default Logger, writing leveled,
// structured JSON (or console output, depending on w) through zerolog.
func NewZerologLogger(w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &zerologLogger{l: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// Default returns a Logger writing INFO-and-above to stderr.
func Default() Logger {
	return NewZerologLogger(os.Stderr, "info")
}

func (z *zerologLogger) Debugf(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z *zerologLogger) Infof(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z *zerologLogger) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z *zerologLogger) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }

func (z *zerologLogger) With(fields map[string]any) Logger {
	ctx := z.l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zerologLogger{l: ctx.Logger()}
}

// Noop discards everything. Useful as a safe zero-value default and in
// benchmarks where logging overhead would skew results.
type Noop struct{}

func (Noop) Debugf(string, ...any)   {}
func (Noop) Infof(string, ...any)    {}
func (Noop) Warnf(string, ...any)    {}
func (Noop) Errorf(string, ...any)   {}
func (n Noop) With(map[string]any) Logger { return n }
