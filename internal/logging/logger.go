// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production. Without
// verbose only warnings and errors are emitted.
func New(development, verbose bool) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
