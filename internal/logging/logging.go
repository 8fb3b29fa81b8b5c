// Package logging builds the zap logger used across opchain.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoder.
type Config struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ParseLevel maps debug|info|warn|error (case-insensitive, default info) to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return l, fmt.Errorf("logging: unknown level %q", s)
	}
	return l, nil
}

// New builds a logger writing to w, or to stderr when w is nil.
// Development mode uses the console encoder and adds stack traces on warnings.
func New(cfg Config, w io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if w == nil {
		return zc.Build()
	}
	var enc zapcore.Encoder
	if zc.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(zc.EncoderConfig)
	}
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zc.Level), opts...), nil
}
