package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger handles application logging
type Logger struct {
	fileLogger     *logrus.Logger
	consoleLogger  *logrus.Logger
	fileEnabled    bool
	consoleEnabled bool
}

// ConsoleConfig contains console output settings
type ConsoleConfig struct {
	Enabled bool
	Level   string
	Format  string
}

// FileConfig contains log file output settings
type FileConfig struct {
	Enabled bool
	Level   string
	Format  string
	Path    string
}

// Config contains logger configuration
type Config struct {
	Console ConsoleConfig
	File    FileConfig
}

// NewLogger creates a new application logger with multiple outputs
func NewLogger(cfg *Config) (*Logger, error) {
	l := &Logger{}

	if cfg.Console.Enabled {
		consoleLog := logrus.New()

		lvl, err := logrus.ParseLevel(cfg.Console.Level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		consoleLog.SetLevel(lvl)
		consoleLog.SetFormatter(newFormatter(cfg.Console.Format, true))
		consoleLog.SetOutput(os.Stderr)

		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	if cfg.File.Enabled && cfg.File.Path != "" {
		fileLog := logrus.New()

		lvl, err := logrus.ParseLevel(cfg.File.Level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		fileLog.SetLevel(lvl)
		fileLog.SetFormatter(newFormatter(cfg.File.Format, false))

		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		fileLog.SetOutput(file)

		l.fileLogger = fileLog
		l.fileEnabled = true
	}

	// Ensure at least one logger is configured
	if !l.fileEnabled && !l.consoleEnabled {
		consoleLog := logrus.New()
		consoleLog.SetLevel(logrus.InfoLevel)
		consoleLog.SetFormatter(newFormatter("text", true))
		consoleLog.SetOutput(os.Stderr)
		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	return l, nil
}

// SetVerbose lowers the log level of all outputs to debug
func (l *Logger) SetVerbose() {
	if l.consoleEnabled {
		l.consoleLogger.SetLevel(logrus.DebugLevel)
	}
	if l.fileEnabled {
		l.fileLogger.SetLevel(logrus.DebugLevel)
	}
}

func newFormatter(format string, colors bool) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     colors,
	}
}

// Info logs an info message to both outputs
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log(logrus.InfoLevel, msg, fields...)
}

// Warn logs a warning message to both outputs
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log(logrus.WarnLevel, msg, fields...)
}

// Error logs an error message to both outputs
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log(logrus.ErrorLevel, msg, fields...)
}

// Debug logs a debug message to both outputs
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log(logrus.DebugLevel, msg, fields...)
}

func (l *Logger) log(level logrus.Level, msg string, fields ...interface{}) {
	logFields := l.parseFields(fields...)

	if l.fileEnabled {
		if len(fields) > 0 {
			l.fileLogger.WithFields(logFields).Log(level, msg)
		} else {
			l.fileLogger.Log(level, msg)
		}
	}

	if l.consoleEnabled {
		if len(fields) > 0 {
			l.consoleLogger.WithFields(logFields).Log(level, msg)
		} else {
			l.consoleLogger.Log(level, msg)
		}
	}
}

// parseFields converts variadic arguments to logrus.Fields
func (l *Logger) parseFields(fields ...interface{}) logrus.Fields {
	result := make(logrus.Fields)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}
