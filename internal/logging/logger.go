// Package logging provides config-driven categorized file-based logging for
// the coordinator. Logs are written to <data-dir>/logs/ with separate files
// per category. Logging is controlled by the logging section of the config -
// when debug_mode is false, no files are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Process startup / shutdown
	CategoryStore    Category = "store"    // SQLite store operations
	CategoryLedger   Category = "ledger"   // Wallet/vault debits and credits
	CategoryRounds   Category = "rounds"   // Round engine transitions
	CategoryMatcher  Category = "matcher"  // Work item matching
	CategoryParty    Category = "party"    // Party session phase control
	CategoryAI       Category = "ai"       // AI backup orchestration
	CategoryCache    Category = "cache"    // Phrase cache generation
	CategoryCluster  Category = "cluster"  // Embeddings, matching, clustering
	CategoryRealtime Category = "realtime" // Session pub/sub
	CategorySweeper  Category = "sweeper"  // Timer/expiry sweeps
	CategoryLocks    Category = "locks"    // Named lock and queue service
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Settings mirrors config.LoggingConfig to avoid a circular import.
type Settings struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	setMu     sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory under the given data dir and
// applies the settings. Should be called once at startup.
func Initialize(dataDir string, s Settings) error {
	if dataDir == "" {
		return fmt.Errorf("data dir required")
	}

	setMu.Lock()
	settings = s
	switch s.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	setMu.Unlock()

	// Silent no-op in production mode.
	if !s.DebugMode {
		return nil
	}

	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== coordinator logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", s.Level)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	setMu.RLock()
	defer setMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	setMu.RLock()
	defer setMu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
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

	// Date prefix for easy rotation.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// Close closes all open log files. Called on shutdown.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
		delete(loggers, cat)
	}
}

// =============================================================================
// CATEGORY CONVENIENCE HELPERS
// =============================================================================

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Ledger logs an info message to the ledger category.
func Ledger(format string, args ...interface{}) { Get(CategoryLedger).Info(format, args...) }

// LedgerDebug logs a debug message to the ledger category.
func LedgerDebug(format string, args ...interface{}) { Get(CategoryLedger).Debug(format, args...) }

// Rounds logs an info message to the rounds category.
func Rounds(format string, args ...interface{}) { Get(CategoryRounds).Info(format, args...) }

// RoundsDebug logs a debug message to the rounds category.
func RoundsDebug(format string, args ...interface{}) { Get(CategoryRounds).Debug(format, args...) }

// Matcher logs an info message to the matcher category.
func Matcher(format string, args ...interface{}) { Get(CategoryMatcher).Info(format, args...) }

// Party logs an info message to the party category.
func Party(format string, args ...interface{}) { Get(CategoryParty).Info(format, args...) }

// PartyDebug logs a debug message to the party category.
func PartyDebug(format string, args ...interface{}) { Get(CategoryParty).Debug(format, args...) }

// AI logs an info message to the ai category.
func AI(format string, args ...interface{}) { Get(CategoryAI).Info(format, args...) }

// AIDebug logs a debug message to the ai category.
func AIDebug(format string, args ...interface{}) { Get(CategoryAI).Debug(format, args...) }

// Cache logs an info message to the cache category.
func Cache(format string, args ...interface{}) { Get(CategoryCache).Info(format, args...) }

// Cluster logs an info message to the cluster category.
func Cluster(format string, args ...interface{}) { Get(CategoryCluster).Info(format, args...) }

// ClusterDebug logs a debug message to the cluster category.
func ClusterDebug(format string, args ...interface{}) { Get(CategoryCluster).Debug(format, args...) }

// Realtime logs an info message to the realtime category.
func Realtime(format string, args ...interface{}) { Get(CategoryRealtime).Info(format, args...) }

// Sweeper logs an info message to the sweeper category.
func Sweeper(format string, args ...interface{}) { Get(CategorySweeper).Info(format, args...) }

// SweeperDebug logs a debug message to the sweeper category.
func SweeperDebug(format string, args ...interface{}) { Get(CategorySweeper).Debug(format, args...) }

// Locks logs an info message to the locks category.
func Locks(format string, args ...interface{}) { Get(CategoryLocks).Info(format, args...) }

// LocksDebug logs a debug message to the locks category.
func LocksDebug(format string, args ...interface{}) { Get(CategoryLocks).Debug(format, args...) }

// MatcherDebug logs a debug message to the matcher category.
func MatcherDebug(format string, args ...interface{}) { Get(CategoryMatcher).Debug(format, args...) }

// CacheDebug logs a debug message to the cache category.
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }

// =============================================================================
// TIMER
// =============================================================================

// Timer measures the duration of an operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
