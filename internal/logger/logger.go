// Package logger builds the service's zap loggers.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger for the development environment and a JSON
// production logger otherwise.
func New(appEnv string) (*zap.Logger, error) {
	if appEnv == "development" || appEnv == "test" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewNamed returns New(appEnv) scoped to a service name.
func NewNamed(appEnv, name string) (*zap.Logger, error) {
	l, err := New(appEnv)
	if err != nil {
		return nil, err
	}
	return l.Named(name).With(zap.String("service", name)), nil
}
