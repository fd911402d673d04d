// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's encoding and verbosity.
type Config struct {
	IsDevelopment     bool
	Encoding          string // "json" or "console"
	Level             string
	DisableCaller     bool
	DisableStacktrace bool
}

// ConfigFor returns the default Config for an application environment.
// Development logs debug output to the console, every other environment
// logs JSON at level.
func ConfigFor(appEnv, level string) Config {
	cfg := Config{
		Encoding: "json",
		Level:    level,
	}
	if strings.EqualFold(appEnv, "development") {
		cfg.IsDevelopment = true
		cfg.Encoding = "console"
		if cfg.Level == "" {
			cfg.Level = "debug"
		}
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	return cfg
}

// NewZapLogger builds a logger writing to stderr.
func NewZapLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.IsDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Encoding
	zc.DisableCaller = cfg.DisableCaller
	zc.DisableStacktrace = cfg.DisableStacktrace
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build logger: %w", err)
	}
	return logger, nil
}

// New is ConfigFor followed by NewZapLogger.
func New(appEnv, level string) (*zap.Logger, error) {
	return NewZapLogger(ConfigFor(appEnv, level))
}
