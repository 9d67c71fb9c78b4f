// Package logging provides categorized, level-gated structured logging for
// every orchestrator component, backed by zap. Each component gets its own
// Category so that a single process-wide log level can still be scoped down
// per subsystem when debugging a specific pipeline stage.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names the component emitting a log entry.
type Category string

const (
	CategoryKnowledgeStore Category = "kb"
	CategoryOrchestrator   Category = "orchestrator"
	CategoryRegistry       Category = "registry"
	CategoryForge          Category = "forge"
	CategoryMaintenance    Category = "maintenance"
	CategoryGovernor       Category = "governor"
	CategoryControlPlane   Category = "control_plane"
	CategoryPersona        Category = "persona"
	CategoryCLI            Category = "cli"
)

var (
	mu      sync.RWMutex
	base    *zap.Logger = zap.NewNop()
	enabled bool
)

// Config controls logging initialization.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// JSON selects structured JSON output; otherwise a human console encoder is used.
	JSON bool
	// Development enables stack traces on Warn+ and a friendlier console encoder.
	Development bool
}

// Initialize installs the process-wide logger. It is safe to call more than
// once (e.g. after a config reload); the previous logger is replaced.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if !cfg.JSON {
		zcfg.Encoding = "console"
	}

	l, err := zcfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	base = l
	enabled = true
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

// For returns a logger scoped to the given category, with "category" set as
// a structured field on every entry.
func For(category Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With(zap.String("category", string(category)))
}

// Enabled reports whether Initialize has been called.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}
