package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	Logger *logrus.Logger // Main logger instance

	initOnce sync.Once
)

// Options controls where application logs go.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR. Anything else means INFO.
	Level string
	// File, when set, receives the logs instead of stdout.
	File string
}

// ParseLevel maps the LOG_LEVEL values onto logrus levels.
func ParseLevel(s string) logrus.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Initialize sets up the main logger. It may be called again to reconfigure.
func Initialize(opts Options) {
	l := logrus.New()
	level := ParseLevel(opts.Level)
	l.SetLevel(level)

	var out io.Writer = os.Stdout
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			fmt.Printf("Failed to create logs directory: %v\n", err)
		} else if f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			fmt.Printf("Failed to open log file: %v\n", err)
		} else {
			out = f
		}
	}
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   out != os.Stdout,
	})
	l.SetReportCaller(true)

	Logger = l
	initOnce.Do(func() {})

	destination := "stdout"
	if out != os.Stdout {
		destination = opts.File
	}
	Logger.WithFields(logrus.Fields{
		"log_level": level.String(),
		"output":    destination,
	}).Info("Logging system initialized")
}

// GetLogger returns the configured main logger instance, creating a stdout
// logger at INFO if Initialize was never called.
func GetLogger() *logrus.Logger {
	initOnce.Do(func() {
		if Logger == nil {
			l := logrus.New()
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
			Logger = l
		}
	})
	return Logger
}

// WithComponent tags entries with the emitting component.
func WithComponent(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}

// WithRecord creates a logger with log record context
func WithRecord(key, risk string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"log_key":   key,
		"risk":      risk,
		"component": "log_service",
	})
}

// WithSubscriber creates a logger with live subscriber context
func WithSubscriber(id, transport string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"subscriber_id": id,
		"transport":     transport,
		"component":     "stream",
	})
}

// WithError creates a logger with error context
func WithError(err error, component string) *logrus.Entry {
	fields := logrus.Fields{
		"error":     err.Error(),
		"component": component,
	}

	// Add stack trace for debug level
	if GetLogger().GetLevel() >= logrus.DebugLevel {
		fields["stack_trace"] = getStackTrace()
	}

	return GetLogger().WithFields(fields)
}

// getStackTrace returns a formatted stack trace
func getStackTrace() string {
	var stack []string
	for i := 2; i < 10; i++ {
		if pc, file, line, ok := runtime.Caller(i); ok {
			fn := runtime.FuncForPC(pc)
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}
	return strings.Join(stack, "\n")
}

// Log levels convenience functions (with fields)
func Debug(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Debug(msg)
}

func Info(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Info(msg)
}

func Warn(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Warn(msg)
}

func Error(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Error(msg)
}

func Fatal(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Fatal(msg)
}
