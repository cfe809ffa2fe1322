// Package logging provides config-driven categorized file-based logging for WIT.
// Logs are written to .wit/logs/ with separate files per category, each through
// its own zap core. When debug mode is off no files are created and every
// logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryAPI       Category = "api"       // LLM API calls
	CategoryAgent     Category = "agent"     // Agent loop, sessions
	CategoryTools     Category = "tools"     // Tool execution
	CategoryPredict   Category = "predict"   // Prediction/generation services
	CategoryExtract   Category = "extract"   // Instrument file extraction
	CategoryNavigator Category = "navigator" // Directory listing
	CategoryStore     Category = "store"     // History database
	CategoryWatch     Category = "watch"     // Instrument directory watcher
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryBoot, CategoryAPI, CategoryAgent, CategoryTools, CategoryPredict,
	CategoryExtract, CategoryNavigator, CategoryStore, CategoryWatch,
}

// Options mirrors the relevant parts of config.LoggingConfig
// to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	Format     string // json, console
	Categories map[string]bool
}

// Logger is a category logger backed by a zap SugaredLogger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	sync     func() error
	close    func() error
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize sets up the logging directory under the workspace.
// Should be called once at startup.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	CloseAll()

	optsMu.Lock()
	opts = o
	logsDir = filepath.Join(workspace, ".wit", "logs")
	optsMu.Unlock()

	lvl, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	if !o.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== WIT logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", lvl)
	if len(o.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	}
	for cat, enabled := range o.Categories {
		boot.Debug("Category '%s': %v", cat, enabled)
	}
	return nil
}

// LogsDir returns the directory log files are written to.
func LogsDir() string {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return logsDir
}

// IsDebugMode returns whether file logging is enabled
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode || logsDir == "" {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" || format == "text" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(LogsDir(), fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	optsMu.RLock()
	format := opts.Format
	optsMu.RUnlock()

	core := zapcore.NewCore(newEncoder(format), zapcore.AddSync(file), level)
	zl := zap.New(core).With(zap.String("cat", string(category)))

	l := &Logger{
		category: category,
		sugar:    zl.Sugar(),
		sync:     zl.Sync,
		close:    file.Close,
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger { return l.sugar.Desugar() }

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sync != nil {
			_ = l.sync()
		}
		if l.close != nil {
			_ = l.close()
		}
	}
	loggers = make(map[Category]*Logger)
	closeAudit()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootError logs an error to the boot category
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

// API logs to the api category
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIWarn logs a warning to the api category
func APIWarn(format string, args ...interface{}) { Get(CategoryAPI).Warn(format, args...) }

// APIError logs an error to the api category
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// Agent logs to the agent category
func Agent(format string, args ...interface{}) { Get(CategoryAgent).Info(format, args...) }

// AgentDebug logs debug to the agent category
func AgentDebug(format string, args ...interface{}) { Get(CategoryAgent).Debug(format, args...) }

// AgentWarn logs a warning to the agent category
func AgentWarn(format string, args ...interface{}) { Get(CategoryAgent).Warn(format, args...) }

// Tools logs to the tools category
func Tools(format string, args ...interface{}) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs debug to the tools category
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }

// ToolsError logs an error to the tools category
func ToolsError(format string, args ...interface{}) { Get(CategoryTools).Error(format, args...) }

// Predict logs to the predict category
func Predict(format string, args ...interface{}) { Get(CategoryPredict).Info(format, args...) }

// PredictDebug logs debug to the predict category
func PredictDebug(format string, args ...interface{}) { Get(CategoryPredict).Debug(format, args...) }

// PredictError logs an error to the predict category
func PredictError(format string, args ...interface{}) { Get(CategoryPredict).Error(format, args...) }

// Extract logs to the extract category
func Extract(format string, args ...interface{}) { Get(CategoryExtract).Info(format, args...) }

// ExtractDebug logs debug to the extract category
func ExtractDebug(format string, args ...interface{}) { Get(CategoryExtract).Debug(format, args...) }

// ExtractWarn logs a warning to the extract category
func ExtractWarn(format string, args ...interface{}) { Get(CategoryExtract).Warn(format, args...) }

// NavigatorDebug logs debug to the navigator category
func NavigatorDebug(format string, args ...interface{}) {
	Get(CategoryNavigator).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreError logs an error to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// Watch logs to the watch category
func Watch(format string, args ...interface{}) { Get(CategoryWatch).Info(format, args...) }

// WatchError logs an error to the watch category
func WatchError(format string, args ...interface{}) { Get(CategoryWatch).Error(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
