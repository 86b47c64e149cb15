// Package logger provides the leveled, printf-style logger used across shadowfs.
//
// The package keeps a single process-wide logrus instance. Call Configure once at
// startup (normally from the loaded configuration); until then messages go to
// stdout in text format at INFO level.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Fields is an alias so callers don't need to import logrus for structured fields.
type Fields = logrus.Fields

var (
	mu     sync.RWMutex
	base   = newDefault()
	closer io.Closer
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func (l Level) String() string {
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

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names map to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Options configures the process-wide logger.
type Options struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive)
	Level string

	// Format is "text" or "json"
	Format string

	// Output is "stdout", "stderr" or a file path. Files are rotated.
	Output string

	// MaxSizeMB is the rotation threshold for file output (default 100)
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (0 keeps all)
	MaxBackups int

	// Compress gzips rotated files
	Compress bool
}

// Configure replaces the process-wide logger according to opts.
//
// If the output file cannot be prepared the logger falls back to stdout and the
// error is returned so the caller can report it.
func Configure(opts Options) error {
	l := logrus.New()
	l.SetLevel(ParseLevel(opts.Level).logrus())

	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	out, c, err := buildOutput(opts)
	l.SetOutput(out)

	mu.Lock()
	prev := closer
	base = l
	closer = c
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	if err != nil {
		l.WithField("output", opts.Output).Warnf("logger fallback to stdout: %v", err)
	}
	return err
}

func buildOutput(opts Options) (io.Writer, io.Closer, error) {
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return os.Stdout, nil, fmt.Errorf("create log directory: %w", err)
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
		LocalTime:  true,
	}
	return rotator, rotator, nil
}

// SetLevel changes the minimum level of the current logger.
func SetLevel(level string) {
	mu.RLock()
	defer mu.RUnlock()
	base.SetLevel(ParseLevel(level).logrus())
}

// SetOutput redirects the current logger. Mostly useful in tests.
func SetOutput(w io.Writer) {
	mu.RLock()
	defer mu.RUnlock()
	base.SetOutput(w)
}

// Enabled reports whether messages at level would be emitted.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return base.IsLevelEnabled(level.logrus())
}

// With returns an entry carrying structured fields.
func With(fields Fields) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithFields(fields)
}

// Close flushes and closes a file output, if any.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	l := base
	mu.RUnlock()

	l.Logf(level.logrus(), format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
