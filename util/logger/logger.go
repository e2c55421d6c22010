package logger

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "info" or "WARN" into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

var defaultLevel atomic.Int32

func init() {
	defaultLevel.Store(int32(INFO))
}

// SetDefaultLevel sets the level used by loggers created after this call.
func SetDefaultLevel(level LogLevel) {
	defaultLevel.Store(int32(level))
}

// DefaultLevel returns the level new loggers start with.
func DefaultLevel() LogLevel {
	return LogLevel(defaultLevel.Load())
}

// Logger represents a logger with configurable log level
type Logger struct {
	mu     sync.RWMutex
	level  LogLevel
	prefix string
	logger *log.Logger
}

// NewLogger creates a new Logger instance using the process default level
func NewLogger(prefix string) *Logger {
	return &Logger{
		level:  DefaultLevel(),
		prefix: prefix,
		logger: log.New(os.Stdout, "", 0),
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetPrefix replaces the tag printed with every line
func (l *Logger) SetPrefix(prefix string) {
	l.mu.Lock()
	l.prefix = prefix
	l.mu.Unlock()
}

// GetPrefix returns the tag printed with every line
func (l *Logger) GetPrefix() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prefix
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	minLevel, tag := l.level, l.prefix
	l.mu.RUnlock()
	if level < minLevel {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] [%s] ", timestamp, level.String(), tag)

	message := fmt.Sprintf(format, args...)
	l.logger.Print(prefix + message)

	if level == FATAL {
		l.logger.Print(string(debug.Stack()))
		os.Exit(1)
	}
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Fatalf logs a fatal message and exits the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}
