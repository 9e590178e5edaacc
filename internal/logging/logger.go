// Package logging provides categorized file-based logging for copydesk.
// Each subsystem writes to its own file under the configured log
// directory, one file per category per day. Pipeline jobs additionally
// emit structured JSON entries (start, suspension-point exit,
// completion) carrying a correlation id so a single item's journey can
// be reassembled from the logs.
//
// Credential values, raw HTML bodies and screenshot bytes are never
// passed to this package; callers log keys, lengths and references.
package logging

import (
	"encoding/json"
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
	CategoryBoot      Category = "boot"      // Startup and shutdown
	CategorySync      Category = "sync"      // Document-store synchronization
	CategoryWorklist  Category = "worklist"  // State machine, dispatch, worker pools
	CategoryParser    Category = "parser"    // Document parsing (AI + heuristic)
	CategoryOptimizer Category = "optimizer" // Optimization engine
	CategoryProofread Category = "proofread" // Rule engine, decisions, rulesets
	CategoryPublish   Category = "publish"   // Publishing providers, CMS driving
	CategoryVault     Category = "vault"     // Credential vault (keys only, never values)
	CategoryStore     Category = "store"     // Database operations
	CategoryAPI       Category = "api"       // Operator REST API
	CategoryLLM       Category = "llm"       // Model calls, token usage, cost
	CategoryCMS       Category = "cms"       // Selector config, CMS probing
	CategoryReport    Category = "report"    // Rule-quality report worker
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logger behavior; wired from config at startup.
type Options struct {
	Dir        string          // log directory; empty disables file logging
	Level      string          // debug/info/warn/error
	JSONFormat bool            // structured JSON lines instead of text
	Categories map[string]bool // nil = all categories enabled
}

// StructuredLogEntry is the JSON line format for machine-read events.
type StructuredLogEntry struct {
	Timestamp     int64                  `json:"ts"` // Unix milliseconds
	Category      string                 `json:"cat"`
	Level         string                 `json:"lvl"`
	Message       string                 `json:"msg"`
	CorrelationID string                 `json:"cid,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
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
	opts      Options
	optsMu    sync.RWMutex
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory and options. Should be
// called once at startup; before it runs every logger is a no-op,
// which keeps tests quiet.
func Initialize(o Options) error {
	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if o.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== copydesk logging initialized ===")
	boot.Info("Logs directory: %s", o.Dir)
	boot.Info("Level: %s JSON: %v", o.Level, o.JSONFormat)
	return nil
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	if opts.Dir == "" {
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

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is uninitialized or the category
// is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
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

	// Date prefix keeps rotation a matter of deleting old files.
	optsMu.RLock()
	dir := opts.Dir
	optsMu.RUnlock()
	date := time.Now().UTC().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

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

func (l *Logger) logJSON(level, msg string, cid string, fields map[string]interface{}) {
	entry := StructuredLogEntry{
		Timestamp:     time.Now().UnixMilli(),
		Category:      string(l.category),
		Level:         level,
		Message:       msg,
		CorrelationID: cid,
		Fields:        fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func jsonFormat() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.JSONFormat
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFormat() {
		l.logJSON("debug", msg, "", nil)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFormat() {
		l.logJSON("info", msg, "", nil)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFormat() {
		l.logJSON("warn", msg, "", nil)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFormat() {
		l.logJSON("error", msg, "", nil)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Sync logs to the sync category
func Sync(format string, args ...interface{}) {
	Get(CategorySync).Info(format, args...)
}

// SyncDebug logs debug to the sync category
func SyncDebug(format string, args ...interface{}) {
	Get(CategorySync).Debug(format, args...)
}

// SyncWarn logs warning to the sync category
func SyncWarn(format string, args ...interface{}) {
	Get(CategorySync).Warn(format, args...)
}

// Worklist logs to the worklist category
func Worklist(format string, args ...interface{}) {
	Get(CategoryWorklist).Info(format, args...)
}

// WorklistDebug logs debug to the worklist category
func WorklistDebug(format string, args ...interface{}) {
	Get(CategoryWorklist).Debug(format, args...)
}

// WorklistWarn logs warning to the worklist category
func WorklistWarn(format string, args ...interface{}) {
	Get(CategoryWorklist).Warn(format, args...)
}

// WorklistError logs error to the worklist category
func WorklistError(format string, args ...interface{}) {
	Get(CategoryWorklist).Error(format, args...)
}

// Parser logs to the parser category
func Parser(format string, args ...interface{}) {
	Get(CategoryParser).Info(format, args...)
}

// ParserDebug logs debug to the parser category
func ParserDebug(format string, args ...interface{}) {
	Get(CategoryParser).Debug(format, args...)
}

// ParserWarn logs warning to the parser category
func ParserWarn(format string, args ...interface{}) {
	Get(CategoryParser).Warn(format, args...)
}

// Optimizer logs to the optimizer category
func Optimizer(format string, args ...interface{}) {
	Get(CategoryOptimizer).Info(format, args...)
}

// OptimizerDebug logs debug to the optimizer category
func OptimizerDebug(format string, args ...interface{}) {
	Get(CategoryOptimizer).Debug(format, args...)
}

// Proofread logs to the proofread category
func Proofread(format string, args ...interface{}) {
	Get(CategoryProofread).Info(format, args...)
}

// ProofreadDebug logs debug to the proofread category
func ProofreadDebug(format string, args ...interface{}) {
	Get(CategoryProofread).Debug(format, args...)
}

// ProofreadWarn logs warning to the proofread category
func ProofreadWarn(format string, args ...interface{}) {
	Get(CategoryProofread).Warn(format, args...)
}

// Publish logs to the publish category
func Publish(format string, args ...interface{}) {
	Get(CategoryPublish).Info(format, args...)
}

// PublishDebug logs debug to the publish category
func PublishDebug(format string, args ...interface{}) {
	Get(CategoryPublish).Debug(format, args...)
}

// PublishWarn logs warning to the publish category
func PublishWarn(format string, args ...interface{}) {
	Get(CategoryPublish).Warn(format, args...)
}

// PublishError logs error to the publish category
func PublishError(format string, args ...interface{}) {
	Get(CategoryPublish).Error(format, args...)
}

// Vault logs to the vault category
func Vault(format string, args ...interface{}) {
	Get(CategoryVault).Info(format, args...)
}

// VaultDebug logs debug to the vault category
func VaultDebug(format string, args ...interface{}) {
	Get(CategoryVault).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// LLMWarn logs warning to the llm category
func LLMWarn(format string, args ...interface{}) {
	Get(CategoryLLM).Warn(format, args...)
}

// CMS logs to the cms category
func CMS(format string, args ...interface{}) {
	Get(CategoryCMS).Info(format, args...)
}

// CMSDebug logs debug to the cms category
func CMSDebug(format string, args ...interface{}) {
	Get(CategoryCMS).Debug(format, args...)
}

// Report logs to the report category
func Report(format string, args ...interface{}) {
	Get(CategoryReport).Info(format, args...)
}

// =============================================================================
// JOB TRACING - correlation-scoped logging for pipeline jobs
// =============================================================================

// JobLogger provides job-scoped logging with a correlation ID. Every
// background job logs through one of these at start, at each
// suspension-point exit, and at completion.
type JobLogger struct {
	logger *Logger
	cid    string
	fields map[string]interface{}
}

// WithCorrelation creates a job-scoped logger.
func WithCorrelation(category Category, correlationID string) *JobLogger {
	return &JobLogger{
		logger: Get(category),
		cid:    correlationID,
		fields: make(map[string]interface{}),
	}
}

// WithField adds a field to the job logger.
func (j *JobLogger) WithField(key string, value interface{}) *JobLogger {
	j.fields[key] = value
	return j
}

func (j *JobLogger) formatMsg(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if len(j.fields) > 0 {
		return fmt.Sprintf("[cid:%s] %s | %v", j.cid, msg, j.fields)
	}
	return fmt.Sprintf("[cid:%s] %s", j.cid, msg)
}

func (j *JobLogger) Debug(format string, args ...interface{}) {
	if j.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	j.logger.logger.Printf("[DEBUG] %s", j.formatMsg(format, args...))
}

func (j *JobLogger) Info(format string, args ...interface{}) {
	if j.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	if jsonFormat() {
		j.logger.logJSON("info", fmt.Sprintf(format, args...), j.cid, j.fields)
		return
	}
	j.logger.logger.Printf("[INFO] %s", j.formatMsg(format, args...))
}

func (j *JobLogger) Warn(format string, args ...interface{}) {
	if j.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	if jsonFormat() {
		j.logger.logJSON("warn", fmt.Sprintf(format, args...), j.cid, j.fields)
		return
	}
	j.logger.logger.Printf("[WARN] %s", j.formatMsg(format, args...))
}

func (j *JobLogger) Error(format string, args ...interface{}) {
	if j.logger.logger == nil {
		return
	}
	if jsonFormat() {
		j.logger.logJSON("error", fmt.Sprintf(format, args...), j.cid, j.fields)
		return
	}
	j.logger.logger.Printf("[ERROR] %s", j.formatMsg(format, args...))
}

