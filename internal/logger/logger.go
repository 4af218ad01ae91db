// Package logger provides the leveled console logger used across plumbapi.
//
// Output lines look like "[HH:MM:SS] [LEVEL] message". Levels are colorized
// when the writer is a terminal. A Logger is safe for concurrent use and a
// nil *Logger discards everything.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// Logger writes leveled, timestamped lines to a writer.
type Logger struct {
	writer      io.Writer
	level       int
	prefix      string
	colorOutput bool
	mu          *sync.Mutex
}

// New creates a Logger writing to w at the given level (trace, debug, info,
// warn, error; anything else means info). A nil writer discards output.
func New(w io.Writer, level string) *Logger {
	return &Logger{
		writer:      w,
		level:       levelToInt(NormalizeLevel(level)),
		colorOutput: isTerminal(w),
		mu:          &sync.Mutex{},
	}
}

// Discard returns a Logger that writes nothing.
func Discard() *Logger {
	return New(nil, "error")
}

// With returns a child logger that prefixes every message with prefix.
// The child shares the writer and lock of its parent.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	if child.prefix != "" {
		child.prefix = child.prefix + " " + prefix
	} else {
		child.prefix = prefix
	}
	return &child
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NormalizeLevel lowercases level and falls back to "info" for unknown values.
func NormalizeLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func levelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Tracef logs at trace level.
func (l *Logger) Tracef(format string, args ...any) { l.logf(levelTrace, "TRACE", format, args...) }

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.logf(levelDebug, "DEBUG", format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.logf(levelInfo, "INFO", format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.logf(levelWarn, "WARN", format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) { l.logf(levelError, "ERROR", format, args...) }

func (l *Logger) logf(level int, name, format string, args ...any) {
	if l == nil || l.writer == nil || level < l.level {
		return
	}

	message := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		message = l.prefix + " " + message
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	if l.colorOutput {
		name = colorize(name)
	}
	fmt.Fprintf(l.writer, "[%s] [%s] %s\n", ts, name, message)
}

func colorize(name string) string {
	switch name {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(name)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(name)
	case "INFO":
		return color.New(color.FgBlue).Sprint(name)
	case "WARN":
		return color.New(color.FgYellow).Sprint(name)
	case "ERROR":
		return color.New(color.FgRed).Sprint(name)
	}
	return name
}
