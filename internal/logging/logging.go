// Package logging wires zap behind the logr facade used throughout the
// autoscaler. Loggers travel in context; packages retrieve them with
// logr.FromContextOrDiscard.
package logging

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Named verbosity levels for logger.V(...). INFO is the default output level;
// DEBUG and TRACE must be enabled via configuration.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// Options controls logger construction.
type Options struct {
	// Level is "info", "debug", or "trace" (case-insensitive).
	Level string

	// Development switches to console encoding with human-readable
	// timestamps; production uses JSON.
	Development bool
}

// New builds a logr.Logger backed by zap according to opts.
func New(opts Options) logr.Logger {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// zapr maps logr V-levels onto negative zap levels.
	switch strings.ToLower(opts.Level) {
	case "trace":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-TRACE))
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-DEBUG))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zl, err := cfg.Build()
	if err != nil {
		// Config is built from vetted values above; a build failure means a
		// programming error, so fall back to the no-op logger.
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
