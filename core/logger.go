package core

import "go.uber.org/zap"

// Logger is the injected logging capability every manager and the hub
// accept through their constructor options. There is no package-level
// logger anywhere in the kernel: spec.md §9 forbids global mutable state,
// so a caller that wants silence passes NopLogger() instead of a disabled
// flag.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger adapts a *zap.Logger into the kernel's Logger capability.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{l: l}
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

type nopLogger struct{}

// NopLogger returns a Logger whose methods are zero-cost no-ops, matching
// the "log() is a no-op when enableLogging is false" behavior of the
// source (spec.md §9).
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...zap.Field) {}
func (nopLogger) Info(string, ...zap.Field)  {}
func (nopLogger) Warn(string, ...zap.Field)  {}
func (nopLogger) Error(string, ...zap.Field) {}
func (nopLogger) With(...zap.Field) Logger   { return nopLogger{} }
