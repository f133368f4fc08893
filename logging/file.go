package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLogger is the operational log for the gateway: connection lifecycle,
// poll failures, publisher faults. Unlike the DebugLogger it is always-on
// once configured, never filtered, and appends across sessions so restarts
// keep one continuous history. Safe for concurrent use.
type FileLogger struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// Global file logger instance
var globalFileLogger *FileLogger
var globalFileMu sync.RWMutex

// NewFileLogger opens the operational log at path, creating the file if it
// doesn't exist and appending if it does.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FileLogger{
		file: file,
	}, nil
}

// Log writes one timestamped line tagged with the originating subsystem,
// in the same line format the DebugLogger uses so the two logs can be
// read side by side.
func (l *FileLogger) Log(subsystem, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s [%s] %s\n", timestamp, subsystem, msg)
}

// Close closes the log file. Writes after Close are dropped.
func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

// SetGlobalFileLogger sets the global operational logger instance.
func SetGlobalFileLogger(logger *FileLogger) {
	globalFileMu.Lock()
	defer globalFileMu.Unlock()
	globalFileLogger = logger
}

// GetGlobalFileLogger returns the global operational logger instance.
func GetGlobalFileLogger() *FileLogger {
	globalFileMu.RLock()
	defer globalFileMu.RUnlock()
	return globalFileLogger
}

// Info writes to the operational log if one is configured. Safe to call
// whether or not file logging was enabled.
func Info(subsystem, format string, args ...interface{}) {
	if logger := GetGlobalFileLogger(); logger != nil {
		logger.Log(subsystem, format, args...)
	}
}
