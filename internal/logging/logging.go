// Package logging provides the leveled log.Logger wrapper used across
// the device client. It intentionally stays on the standard library:
// no third-party structured logger is introduced, matching the way the
// rest of this codebase's lineage logs (plain log.Printf/log.Fatalf
// with inline prefixes).
package logging

import (
	"log"
	"os"
)

// Logger wraps a standard library logger with a component prefix and
// leveled helpers.
type Logger struct {
	std *log.Logger
}

// New returns a Logger writing to stderr with the given component name
// as prefix, e.g. "[nyx.orchestrator] ".
func New(component string) *Logger {
	return &Logger{std: log.New(os.Stderr, "["+component+"] ", log.LstdFlags)}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("INFO "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("ERROR "+format, args...)
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.std.Fatalf("FATAL "+format, args...)
}
