// Package logging wraps the standard library's log.Logger with leveled
// helper methods, keeping call sites terse without pulling in a
// structured-logging dependency.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger is a minimal leveled logger backed by *log.Logger.
type Logger struct {
	std   *log.Logger
	quiet bool
}

// New returns a Logger writing to w with the given prefix.
func New(w io.Writer, prefix string) *Logger {
	return &Logger{std: log.New(w, prefix, log.LstdFlags)}
}

// Default returns a Logger writing to stderr with no prefix.
func Default() *Logger {
	return New(os.Stderr, "")
}

// Quiet suppresses Infof output while leaving Warnf/Errorf unaffected.
func (l *Logger) Quiet(q bool) *Logger {
	l.quiet = q
	return l
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.quiet {
		return
	}
	l.std.Printf("INFO  "+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.std.Printf("WARN  "+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.std.Printf("ERROR "+format, args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.std.Fatalf("FATAL "+format, args...)
}
