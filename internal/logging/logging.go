// Package logging builds the process-wide structured logger and bridges it
// to logr so the same sink backs both application code and k8s.io/client-go.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is a shorthand for the structured key/value pairs attached to a log
// line via zap.Any.
type Fields map[string]interface{}

// Zap converts Fields into zap.Field values.
func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// New builds a *zap.Logger. format is "json" (production) or "console"
// (development); level is a zapcore level name ("debug", "info", "warn",
// "error").
func New(format, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	return cfg.Build()
}

// Logr adapts a *zap.Logger into the logr.Logger interface expected by
// k8s.io/client-go and controller-style dependencies.
func Logr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}
