// Package logging builds the structured logger shared by every component.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a structured logger. Debug switches to the development
// encoder with debug level enabled.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// WithOperation enriches the logger with the demo flow and an optional subject.
func WithOperation(logger *zap.Logger, operation, subject string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if subject != "" {
		fields = append(fields, zap.String("subject", subject))
	}
	return logger.With(fields...)
}
