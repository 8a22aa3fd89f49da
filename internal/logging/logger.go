// Package logging builds the zap loggers used across paddisense. Each engine
// stage logs under its own category, exposed as a named child logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Config load, startup
	CategoryCatalog    Category = "catalog"    // Catalog load and discovery
	CategoryValidate   Category = "validate"   // Manifest validation
	CategoryActivation Category = "activation" // Link table mutations
	CategoryRegistry   Category = "registry"   // Dashboard registry merges
	CategoryVerify     Category = "verify"     // Installation verification
	CategoryBatch      Category = "batch"      // Batch pipeline
	CategoryWatch      Category = "watch"      // Filesystem watch mode
)

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	File    string // empty = stderr
	Verbose bool   // forces debug level
}

// New builds a logger from options, starting from zap's production config as
// the CLI always has.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch opts.Format {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Named returns the category logger derived from base. A nil base yields a
// no-op logger so components can be constructed without logging.
func Named(base *zap.Logger, cat Category) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(string(cat))
}
