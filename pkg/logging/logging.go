package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvLogLevel overrides the level chosen on the command line when set.
const EnvLogLevel = "SUITECTL_LOG_LEVEL"

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to INFO for unknown
	}
}

// ParseLevel converts a textual level into a LogLevel. The second return value
// is false when raw is empty or not recognised.
func ParseLevel(raw string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Format selects the slog handler used for output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// Init configures the package logger. The level from EnvLogLevel wins over
// level when it is set to a recognised value.
func Init(format Format, level LogLevel, output io.Writer) {
	if envLevel, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = envLevel
	}

	opts := &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)

	mu.Lock()
	defaultLogger = logger
	mu.Unlock()

	slog.SetDefault(logger) // Set for any global slog calls if necessary
}

// InitForCLI initializes the logging system for CLI mode with a text handler.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	Init(FormatText, filterLevel, output)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil {
		// Not initialised yet; write something rather than drop the record.
		fmt.Fprintf(os.Stderr, "%s [%s] %s: %s\n", time.Now().Format(time.RFC3339), level, subsystem, msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		}
		return
	}

	var slogAttrs []slog.Attr
	slogAttrs = append(slogAttrs, slog.String("subsystem", subsystem))
	if err != nil {
		slogAttrs = append(slogAttrs, slog.String("error", err.Error()))
	}

	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, slogAttrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}
