package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})
}

// Level is a logging threshold. Messages below it are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// defaultLogger implements Logger using Go's standard log package
type defaultLogger struct {
	level       Level
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

// NewDefaultLogger logs errors and warnings to stderr, info to stdout, and drops debug.
func NewDefaultLogger() Logger {
	return &defaultLogger{
		level:       LevelInfo,
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
	}
}

// NewLogger writes every level to out, dropping messages below level.
// Writes to out are serialized across levels.
func NewLogger(out io.Writer, level Level) Logger {
	out = &lockedWriter{w: out}
	flags := log.LstdFlags | log.Lmicroseconds | log.Lshortfile
	return &defaultLogger{
		level:       level,
		errorLogger: log.New(out, "[ERROR] ", flags),
		warnLogger:  log.New(out, "[WARN] ", flags),
		infoLogger:  log.New(out, "[INFO] ", flags),
		debugLogger: log.New(out, "[DEBUG] ", flags),
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return NewLogger(io.Discard, LevelError+1)
}

func (l *defaultLogger) output(level Level, logger *log.Logger, msg string) {
	if level < l.level {
		return
	}
	_ = logger.Output(3, msg)
}

// Error logs an error message
func (l *defaultLogger) Error(args ...interface{}) {
	l.output(LevelError, l.errorLogger, fmt.Sprint(args...))
}

// Errorf logs a formatted error message
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.output(LevelError, l.errorLogger, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *defaultLogger) Warn(args ...interface{}) {
	l.output(LevelWarn, l.warnLogger, fmt.Sprint(args...))
}

// Warnf logs a formatted warning message
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.output(LevelWarn, l.warnLogger, fmt.Sprintf(format, args...))
}

// Info logs an informational message
func (l *defaultLogger) Info(args ...interface{}) {
	l.output(LevelInfo, l.infoLogger, fmt.Sprint(args...))
}

// Infof logs a formatted informational message
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.output(LevelInfo, l.infoLogger, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *defaultLogger) Debug(args ...interface{}) {
	l.output(LevelDebug, l.debugLogger, fmt.Sprint(args...))
}

// Debugf logs a formatted debug message
func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.output(LevelDebug, l.debugLogger, fmt.Sprintf(format, args...))
}
