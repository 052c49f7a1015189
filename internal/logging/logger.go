// Package logging provides level-based logging functionality for the
// orchestrator core. All output goes to stderr so it never interferes
// with a plugin's own stdout-based protocol.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger provides level-based logging functionality.
type Logger struct {
	debugEnabled bool
	infoLogger   *log.Logger
	debugLogger  *log.Logger
}

var globalLogger *Logger

// Initialize sets up the global logger with debug mode setting.
func Initialize(debugMode bool) {
	var output io.Writer = os.Stderr
	globalLogger = &Logger{
		debugEnabled: debugMode,
		infoLogger:   log.New(output, "", log.LstdFlags),
		debugLogger:  log.New(output, "", log.LstdFlags),
	}
}

// New returns a standalone logger instance, for callers (mainly tests)
// that don't want to touch the process-global logger.
func New(debugMode bool) *Logger {
	return &Logger{
		debugEnabled: debugMode,
		infoLogger:   log.New(os.Stderr, "", log.LstdFlags),
		debugLogger:  log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.infoLogger.Printf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.debugEnabled {
		l.debugLogger.Printf("DEBUG: "+format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.infoLogger.Printf("ERROR: "+format, args...)
}

// Info logs informational messages via the global logger (always shown).
func Info(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.infoLogger.Printf(format, args...)
	}
}

// Debug logs debug messages via the global logger (only shown when debug
// mode is enabled).
func Debug(format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.debugEnabled {
		globalLogger.debugLogger.Printf("DEBUG: "+format, args...)
	}
}

// Error logs error messages via the global logger (always shown).
func Error(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.infoLogger.Printf("ERROR: "+format, args...)
	}
}

func IsDebugEnabled() bool {
	return globalLogger != nil && globalLogger.debugEnabled
}
