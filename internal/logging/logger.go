package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"rekindle/internal/buffer"
)

const DefaultHistorySize = 1000

// Logger writes leveled entries to an output writer, retains recent
// entries in a ring, and broadcasts them to hub subscribers.
type Logger struct {
	output   *log.Logger
	minLevel Level
	base     map[string]string
	hub      *Hub

	mu      sync.Mutex
	history *buffer.Ring[Entry]
}

func New(minLevel Level) *Logger {
	return NewWithOutput(minLevel, os.Stdout)
}

func NewWithOutput(minLevel Level, output io.Writer) *Logger {
	if output == nil {
		output = io.Discard
	}
	return &Logger{
		output:   log.New(output, "", log.LstdFlags),
		minLevel: normalizeLevel(minLevel),
		hub:      NewHub(),
		history:  buffer.NewRing[Entry](DefaultHistorySize),
	}
}

// With returns a logger that merges fields into every entry. The history
// ring and hub are shared with the parent.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		output:   l.output,
		minLevel: l.minLevel,
		base:     mergeFields(l.base, fields),
		hub:      l.hub,
		history:  l.history,
	}
}

func (l *Logger) Subscribe() (<-chan Entry, func()) {
	if l == nil || l.hub == nil {
		return nil, func() {}
	}
	return l.hub.Subscribe(0)
}

// History returns the retained entries, oldest first.
func (l *Logger) History() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.Snapshot()
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.emit(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.emit(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.emit(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.emit(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) emit(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.base, fields),
	}

	l.mu.Lock()
	l.history.Add(entry)
	l.mu.Unlock()

	if l.hub != nil {
		l.hub.Broadcast(entry)
	}
	if l.output != nil {
		l.output.Print(formatEntry(entry))
	}
}

func formatEntry(entry Entry) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(string(entry.Level)))
	b.WriteString("] ")
	b.WriteString(entry.Message)
	if len(entry.Context) > 0 {
		keys := make([]string, 0, len(entry.Context))
		for key := range entry.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, " %s=%s", key, entry.Context[key])
		}
	}
	return b.String()
}

func mergeFields(base, fields map[string]string) map[string]string {
	if len(base) == 0 && len(fields) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(fields))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}
