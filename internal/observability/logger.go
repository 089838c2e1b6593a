package observability

import (
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLoggerWithService constructs a production zap.Logger for the named
// service at the level selected by ENV and LOG_LEVEL.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Field names match what the log shipper indexes on
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// getLogLevel determines the log level from LOG_LEVEL, defaulting to debug
// in development and info elsewhere.
func getLogLevel() zapcore.Level {
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if lvl, err := zapcore.ParseLevel(strings.ToLower(raw)); err == nil {
			return lvl
		}
		return zap.InfoLevel
	}
	switch strings.ToLower(os.Getenv("ENV")) {
	case "development", "dev":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

var sampledTotal, sampledKept atomic.Int64

// ShouldSample returns true if a high-volume log line should be emitted.
// rate is between 0.0 and 1.0 (e.g. 0.1 for 10% sampling).
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	sampledTotal.Add(1)
	if rand.Float64() < rate {
		sampledKept.Add(1)
		return true
	}
	return false
}

// GetSamplingRate returns the sampling rate for per-decision logs based on
// environment.
func GetSamplingRate() float64 {
	switch strings.ToLower(os.Getenv("ENV")) {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}

// LogSamplingStats logs how many sampled log lines were kept since start.
func LogSamplingStats(logger *zap.Logger) {
	total := sampledTotal.Load()
	if total == 0 {
		return
	}
	kept := sampledKept.Load()
	logger.Info("sampling stats",
		zap.Int64("total_logs", total),
		zap.Int64("sampled_logs", kept),
		zap.Float64("actual_rate", float64(kept)/float64(total)),
	)
}
