package logging

import (
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel is the minimum severity that gets printed.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// level holds the current minimum LogLevel. It is read from FUSE handler
// goroutines while the CLI may still be setting it.
var level atomic.Int32

func init() {
	level.Store(int32(LevelInfo))
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel converts a level name to a LogLevel. Unknown names map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func SetLevel(l LogLevel) {
	level.Store(int32(l))
}

// CurrentLevel returns the minimum level that gets printed.
func CurrentLevel() LogLevel {
	return LogLevel(level.Load())
}

// DebugEnabled reports whether debug output is on, for callers that guard
// expensive formatting.
func DebugEnabled() bool {
	return CurrentLevel() == LevelDebug
}

func logf(l LogLevel, prefix, format string, args ...any) {
	if l < CurrentLevel() {
		return
	}
	log.Printf(prefix+format, args...)
}

func Debugf(format string, args ...any) {
	logf(LevelDebug, "[DEBUG] ", format, args...)
}

func Infof(format string, args ...any) {
	logf(LevelInfo, "[INFO] ", format, args...)
}

func Warnf(format string, args ...any) {
	logf(LevelWarn, "[WARN] ", format, args...)
}

func Errorf(format string, args ...any) {
	logf(LevelError, "[ERROR] ", format, args...)
}
