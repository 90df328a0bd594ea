package config

import (
	"log/slog"
	"os"

	"github.com/divertscan/fieldsync/internal/foundation"
)

// levelVar backs the process-wide log level so it can be changed at runtime
// without rebuilding the handler.
var levelVar = new(slog.LevelVar)

// SetupLogging installs the process-wide slog default according to the
// logging configuration.
func SetupLogging(cfg LoggingConfig) {
	levelVar.Set(NormalizeLogLevel(cfg.Level).SlogLevel())

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if NormalizeLogFormat(cfg.Format) == LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel changes the process-wide log level at runtime.
func SetLogLevel(level string) {
	levelVar.Set(NormalizeLogLevel(level).SlogLevel())
}

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var levelNormalizer = foundation.NewNormalizer(map[string]LogLevel{
	string(LogLevelDebug): LogLevelDebug,
	string(LogLevelInfo):  LogLevelInfo,
	string(LogLevelWarn):  LogLevelWarn,
	string(LogLevelError): LogLevelError,
}, LogLevelInfo)

// NormalizeLogLevel converts arbitrary user input into a typed level, defaulting to info.
func NormalizeLogLevel(raw string) LogLevel {
	return levelNormalizer.Normalize(raw)
}

// SlogLevel maps a LogLevel onto the slog level scale.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var formatNormalizer = foundation.NewNormalizer(map[string]LogFormat{
	string(LogFormatJSON): LogFormatJSON,
	string(LogFormatText): LogFormatText,
}, LogFormatText)

// NormalizeLogFormat converts arbitrary user input into a typed format, defaulting to text.
func NormalizeLogFormat(raw string) LogFormat {
	return formatNormalizer.Normalize(raw)
}
