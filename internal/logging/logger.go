// Package logging builds the run's zap loggers. Every collaborator logs
// under a named category so a run's output can be filtered per concern.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a planning subsystem.
type Category = string

const (
	CategoryPlanner  Category = "planner"
	CategorySolver   Category = "solver"
	CategoryDivision Category = "division"
	CategoryOnline   Category = "online"
	CategoryConfig   Category = "config"
)

// Options controls logger construction.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	File   string // extra log sink, optional
}

// Build constructs the root logger. Callers derive category loggers with
// For.
func Build(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	switch opts.Level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}

	switch opts.Format {
	case "json", "":
	case "text":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// For derives a category logger from the root.
func For(root *zap.Logger, category Category) *zap.Logger {
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(category)
}
