// Package obslog wraps zap the way the teacher's cmd/*/main.go wraps the
// standard library logger: a small package-level constructor, structured
// fields instead of Printf verbs, everywhere outside main().
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger every component takes by constructor
// injection. Never a package-level global — each engine/router/supervisor
// gets its own handle so tests can capture output in isolation.
type Logger struct {
	z *zap.Logger
}

// New builds a production-profile JSON logger. service is attached as a
// permanent field so multiplexed logs can be filtered per component.
func New(service string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.With(zap.String("service", service))}
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Critical logs at Error level with a fixed "critical_failure" marker —
// the structured critical-failure log spec §7 requires the router emit
// on fatal stages.
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.z.Error(msg, append(fields, zap.Bool("critical_failure", true))...)
}

func (l *Logger) Sync() error { return l.z.Sync() }

// Str, Int, Bool, Err, Dur and Any re-export zap.Field constructors under
// shorter names so call sites
// read like the rest of this package without importing zap directly.
var (
	Str   = zap.String
	Int   = zap.Int
	Bool  = zap.Bool
	Err   = zap.Error
	Dur   = zap.Duration
	Any   = zap.Any
)
