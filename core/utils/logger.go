package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logging facade. Services receive it through
// their constructors; nothing logs through a package-level global.
type Logger struct {
	s *zap.SugaredLogger
}

func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{s: base.Sugar()}
}

func NewTestLogger() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Infof(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Errorf(format, args...)
}

func (l *Logger) Sync() {
	if l == nil || l.s == nil {
		return
	}
	_ = l.s.Sync()
}
