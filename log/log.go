// Package log provides logging functions.
package log

import (
	"fmt"
	"os"
)

// Level is the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// minLevel is the minimum level to include in the logging output.
var minLevel Level = InfoLevel

// SetMinLevel sets the minimum level to include in the logging output.
func SetMinLevel(level Level) {
	minLevel = level
}

// write prints a message for the given severity level.
func write(level Level, msg string, args ...interface{}) {
	if minLevel > level {
		return
	}
	fmt.Fprintf(os.Stderr, msg, args...)
	fmt.Fprintln(os.Stderr)
}

// Infof formats an informational log message.
func Infof(msg string, args ...interface{}) {
	write(InfoLevel, msg, args...)
}

// Info prints an informational log message.
func Info(msg string) {
	Infof(msg)
}

// Debugf formats a debugging log message.
func Debugf(msg string, args ...interface{}) {
	write(DebugLevel, msg, args...)
}

// Debug prints a debugging log message.
func Debug(msg string) {
	Debugf(msg)
}

// Warnf formats a warning log message.
func Warnf(msg string, args ...interface{}) {
	write(WarnLevel, msg, args...)
}

// Warn prints a warning log message.
func Warn(msg string) {
	Warnf(msg)
}

// Errorf formats an error log message.
func Errorf(msg string, args ...interface{}) {
	write(ErrorLevel, msg, args...)
}

// Error prints an error log message.
func Error(msg string) {
	Errorf(msg)
}

// workerPrefix formats a worker index for a log line, or the empty string
// if worker is negative (used by the coordinating goroutine, not a shard).
func workerPrefix(worker int) string {
	if worker < 0 {
		return ""
	}
	return fmt.Sprintf("[worker %d] ", worker)
}

// WorkerInfof formats an informational message prefixed with the worker
// index that produced it, so interleaved shard output stays attributable.
func WorkerInfof(worker int, msg string, args ...interface{}) {
	write(InfoLevel, workerPrefix(worker)+msg, args...)
}

// WorkerWarnf formats a warning message prefixed with the worker index.
func WorkerWarnf(worker int, msg string, args ...interface{}) {
	write(WarnLevel, workerPrefix(worker)+msg, args...)
}

// WorkerErrorf formats an error message prefixed with the worker index.
func WorkerErrorf(worker int, msg string, args ...interface{}) {
	write(ErrorLevel, workerPrefix(worker)+msg, args...)
}
