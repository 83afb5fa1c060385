package concurrency

import (
	"fmt"
	"log"
	"os"
)

// Logger is the subset of core.Logger the pool writes to.
// It is declared here so this package does not import core.
type Logger interface {
	Errorf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// defaultSimpleLogger writes errors and info lines through the standard log package.
// Debug output is dropped.
type defaultSimpleLogger struct {
	errorLogger *log.Logger
	infoLogger  *log.Logger
}

func newDefaultSimpleLogger() Logger {
	return &defaultSimpleLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
	}
}

func (l *defaultSimpleLogger) Errorf(format string, args ...interface{}) {
	_ = l.errorLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *defaultSimpleLogger) Infof(format string, args ...interface{}) {
	_ = l.infoLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *defaultSimpleLogger) Debugf(string, ...interface{}) {}
