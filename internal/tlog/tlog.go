// Package tlog provides the package-wide structured logger that
// cmd/tracedump uses to surface advisory diagnostics and progress.
package tlog

import "go.uber.org/zap"

var logger = zap.NewNop()

// L returns the current package logger. It is a no-op logger until
// SetLogger installs a real one, so library code can log unconditionally
// without forcing output on callers that never configure tlog.
func L() *zap.Logger { return logger }

// SetLogger installs l as the package logger. Passing nil resets to a
// no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// NewCLI builds a development-style logger writing to stderr, used by
// cmd/tracedump. verbose raises the level from Info to Debug.
func NewCLI(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// Sync flushes the installed logger.
func Sync() error {
	return logger.Sync()
}
