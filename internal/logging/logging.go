// Package logging builds the zap loggers used by the intellispec commands.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production (JSON) or development (console) logger at level.
// Output goes to stderr unless paths are given.
func New(level string, development bool, paths ...string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(paths) > 0 {
		cfg.OutputPaths = paths
		cfg.ErrorOutputPaths = paths
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return logger, nil
}
