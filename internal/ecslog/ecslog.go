// Package ecslog provides the structured logger used across the control
// plane. It wraps go.uber.org/zap behind a small interface so call sites
// read the way the teacher's log.Printf call sites do; each message is a
// printf-formatted string carried inside zap's JSON log record.
package ecslog

import (
	"os"

	"go.uber.org/zap"
)

// Logger is the logging surface every ECS component is given at
// construction time. Tests substitute NewNop to keep output quiet.
type Logger struct {
	z *zap.SugaredLogger
}

// New builds a production logger writing JSON to stderr.
func New() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	z, err := cfg.Build()
	if err != nil {
		// zap's production config only fails to build on a bad encoder
		// sink, never on stderr; fall back rather than crash the daemon.
		z = zap.NewExample()
	}
	return &Logger{z: z.Sugar()}
}

// NewNop discards everything. Used in tests and in components that were
// not given an explicit logger.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

func (l *Logger) Infof(format string, args ...any)  { l.z.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.z.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.z.Errorf(format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.z.Debugf(format, args...) }

// Fatalf logs at error level and exits the process with status 1. It is a
// method on Logger rather than the package-level log.Fatalf the teacher
// uses; it calls os.Exit directly and has no hook to replace the exit.
func (l *Logger) Fatalf(format string, args ...any) {
	l.z.Errorf(format, args...)
	os.Exit(1)
}

func (l *Logger) Sync() {
	_ = l.z.Sync()
}
