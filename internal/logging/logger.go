package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger. An unknown level falls back to info.
func NewLogger(serviceName, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID returns a logger with request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// WithMeter returns a logger carrying the meter's composite key
func WithMeter(logger *zap.Logger, owner, propertyID, commodity, meterID string) *zap.Logger {
	return logger.With(
		zap.String("owner", owner),
		zap.String("property_id", propertyID),
		zap.String("commodity", commodity),
		zap.String("meter_id", meterID),
	)
}
