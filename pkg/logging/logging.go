// Package logging builds the single *zap.Logger the rest of the fabric takes
// as a constructor argument. Nothing in the tree reaches for a package-level
// global logger; every component gets a .Named() child of the one built here.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production (JSON) or development (console) logger depending
// on environment, matching the two shapes zap ships out of the box.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Noop returns a logger that discards everything, for tests that don't want
// to assert on log output.
func Noop() *zap.Logger {
	return zap.NewNop()
}
