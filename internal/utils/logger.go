package utils

import (
	"os"

	"github.com/metorial/custom-server/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global structured logger instance
	Logger *zap.Logger
)

func init() {
	Logger = NewLogger(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
}

// NewLogger creates a new zap logger for the given environment.
// In production, uses JSON encoding. In development, uses console encoding.
func NewLogger(env, logLevel string) *zap.Logger {
	if env == "" {
		env = "development"
	}

	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if logLevel != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logLevel)); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Hooks(func(entry zapcore.Entry) error {
			if entry.Level >= zapcore.ErrorLevel {
				metrics.RecordErrorLog(entry.Level.String())
			}
			return nil
		}),
	)
	if err != nil {
		// Fallback to no-op logger if creation fails
		return zap.NewNop()
	}

	return logger
}

// SetLogger replaces the global logger, e.g. after configuration is loaded.
func SetLogger(l *zap.Logger) {
	if l != nil {
		Logger = l
	}
}

// Sync flushes any buffered log entries. Should be called before program exit.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
