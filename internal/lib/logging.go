package lib

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger provides structured logging for the application
type Logger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewLogger creates a new logger instance writing to stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a logger that writes to a specific writer
// Useful for tests and for teeing run logs into the pipeline directory
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(level))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{
		level:  lv,
		logger: slog.New(handler).With("logger", "sisyphus"),
	}
}

// DefaultLogger returns a logger with INFO level
var DefaultLogger = NewLogger(LogLevelInfo)

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...any) {
	l.logger.Debug(message, fields...)
}

// Info logs an informational message
func (l *Logger) Info(message string, fields ...any) {
	l.logger.Info(message, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...any) {
	l.logger.Warn(message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...any) {
	l.logger.Error(message, fields...)
}

// With returns a logger that adds the given fields to every message
func (l *Logger) With(fields ...any) *Logger {
	return &Logger{level: l.level, logger: l.logger.With(fields...)}
}

// LogOperation logs the start and completion of an operation
func LogOperation(logger *Logger, operation string, fn func() error) error {
	logger.Info(fmt.Sprintf("Starting: %s", operation))
	start := time.Now()

	err := fn()

	duration := time.Since(start)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed: %s", operation), "duration", duration, "error", err)
		return err
	}

	logger.Info(fmt.Sprintf("Completed: %s", operation), "duration", duration)
	return nil
}

// LogRetry logs retry attempts
func LogRetry(logger *Logger, operation string, attempt int, maxAttempts int, err error) {
	// Remove line breaks from operation to prevent log spoofing
	safeOperation := strings.ReplaceAll(operation, "\n", "")
	safeOperation = strings.ReplaceAll(safeOperation, "\r", "")
	logger.Warn(
		fmt.Sprintf("Retry attempt %d/%d for: %s", attempt+1, maxAttempts, safeOperation),
		"error", err,
	)
}

// LogStepStart logs the start of a checkpointed step
func LogStepStart(logger *Logger, label string, runID string) {
	logger.Info(
		"Step started",
		"step", label,
		"run_id", runID,
	)
}

// LogStepComplete logs the completion of a checkpointed step
func LogStepComplete(logger *Logger, label string, runID string, duration time.Duration) {
	logger.Info(
		"Step completed",
		"step", label,
		"run_id", runID,
		"duration", duration,
	)
}

// LogStepFailed logs a failed checkpointed step with the full error chain
func LogStepFailed(logger *Logger, label string, runID string, duration time.Duration, err error) {
	logger.Error(
		"Step failed",
		"step", label,
		"run_id", runID,
		"duration", duration,
		"error", fmt.Sprintf("%+v", err),
	)
}

// LogAnalysisTransition logs a persisted analysis status change
func LogAnalysisTransition(logger *Logger, name string, from string, to string) {
	logger.Info(
		"Analysis status changed",
		"analysis", name,
		"from", from,
		"to", to,
	)
}

// LogAnalysisCreated logs analysis creation
func LogAnalysisCreated(logger *Logger, name string, jiraTicket string) {
	logger.Info(
		"Analysis created",
		"analysis", name,
		"jira_ticket", jiraTicket,
	)
}

// LogRunCompleted logs run completion
func LogRunCompleted(logger *Logger, name string, duration time.Duration) {
	logger.Info(
		"Run completed",
		"analysis", name,
		"duration", duration,
		"hours", fmt.Sprintf("%.2f", duration.Hours()),
	)
}

// LogServiceCall logs HTTP service calls
func LogServiceCall(logger *Logger, service string, endpoint string, method string) {
	logger.Debug(
		"Service call",
		"service", service,
		"endpoint", endpoint,
		"method", method,
	)
}

// LogServiceResponse logs HTTP service responses
func LogServiceResponse(logger *Logger, service string, statusCode int, duration time.Duration) {
	if statusCode >= 400 {
		logger.Warn(
			"Service response",
			"service", service,
			"status", statusCode,
			"duration", duration,
		)
	} else {
		logger.Debug(
			"Service response",
			"service", service,
			"status", statusCode,
			"duration", duration,
		)
	}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(toSlogLevel(level))
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
