// Package logger builds the zap.Logger every component in this module
// takes by constructor injection.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's encoding and level.
type Config struct {
	// Debug selects a human-readable console encoder at debug level;
	// otherwise a JSON encoder at info level is used.
	Debug bool
}

// New builds a *zap.Logger for the given config. Callers generally take
// logger.Sugar() at their own construction site, matching the teacher's
// node.Node convention of storing *zap.Logger and calling .Sugar() at each
// call site.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Debug {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zcfg.Build()
	}

	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// Noop returns a logger that discards everything, for tests that don't
// want to assert on log output.
func Noop() *zap.Logger {
	return zap.NewNop()
}
