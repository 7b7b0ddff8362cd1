package testutil

import (
	"strings"
	"sync"
)

// LogEntry is one record captured by CaptureLogger.
type LogEntry struct {
	Level   string
	Message string
	Args    []any
}

// CaptureLogger records every log call so tests can assert on warnings and
// errors emitted by the storage layer. Safe for concurrent use.
type CaptureLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewCaptureLogger() *CaptureLogger { return &CaptureLogger{} }

func (l *CaptureLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args) }
func (l *CaptureLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args) }
func (l *CaptureLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args) }
func (l *CaptureLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args) }

func (l *CaptureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Args: args})
}

// Entries returns a copy of all captured entries.
func (l *CaptureLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Contains reports whether an entry at level has a message containing substr.
func (l *CaptureLogger) Contains(level, substr string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
