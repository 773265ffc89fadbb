// Package logger owns the process-wide hclog root logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root hclog.Logger = newRoot("", os.Getenv("LOG_FORMAT"), os.Stderr)
)

func newRoot(level, format string, output io.Writer) hclog.Logger {
	if lvl := os.Getenv("LOG_LEVEL"); level == "" && lvl != "" {
		level = lvl
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "muxpipe",
		Level:      hclog.LevelFromString(level),
		Output:     output,
		JSONFormat: strings.EqualFold(format, "json"),
	})
}

// Configure replaces the root logger. level uses hclog names
// (trace, debug, info, warn, error, off); format "json" selects JSON output.
func Configure(level, format string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	l := newRoot(level, format, output)

	mu.Lock()
	root = l
	mu.Unlock()

	return l
}

// SetLevel changes the level of the root logger in place
func SetLevel(level string) {
	Default().SetLevel(hclog.LevelFromString(level))
}

// Default returns the root logger
func Default() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a sub-logger of the root logger
func Named(name string) hclog.Logger {
	return Default().Named(name)
}

// Info logs at info level on the root logger
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs at warn level on the root logger
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs at error level on the root logger
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// Debug logs at debug level on the root logger
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}
