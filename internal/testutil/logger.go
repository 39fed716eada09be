package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// LogEntry is one message captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// Attr returns the value logged for key, or nil.
func (e LogEntry) Attr(key string) any {
	for i := 0; i+1 < len(e.Args); i += 2 {
		if k, ok := e.Args[i].(string); ok && k == key {
			return e.Args[i+1]
		}
	}
	return nil
}

// RecordingLogger implements balloon.Logger and keeps every message.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

// Level returns the entries logged at level.
func (l *RecordingLogger) Level(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	for _, e := range l.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (l *RecordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for _, e := range l.entries {
		fmt.Fprintf(&b, "%s %s %v\n", e.Level, e.Msg, e.Args)
	}
	return b.String()
}
