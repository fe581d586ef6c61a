// Package logging provides structured logging for bofit, built on zap.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (debug, info, warn, error).
	Level string `yaml:"level" env:"BOFIT_LOG_LEVEL"`
	// Format is the output format (json, console).
	Format string `yaml:"format" env:"BOFIT_LOG_FORMAT"`
	// Output is the output destination (stdout, stderr, or a file path).
	Output string `yaml:"output" env:"BOFIT_LOG_OUTPUT"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// NewLogger creates a new zap logger with the given configuration. Extra
// paths are additional output sinks, typically the run's log file.
func NewLogger(cfg Config, extraPaths ...string) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "json":
		zcfg.Encoding = "json"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	zcfg.OutputPaths = append([]string{output}, extraPaths...)
	zcfg.ErrorOutputPaths = []string{"stderr"}

	return zcfg.Build()
}

// parseLevel converts a string log level to a zapcore.Level.
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
