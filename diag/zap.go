package diag

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink writes diagnostics to a zap logger. Trace maps to debug.
type ZapSink struct {
	l *zap.Logger
}

// NewZapSink wraps l. A nil logger discards everything.
func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapSink{l: l.WithOptions(zap.AddCallerSkip(1))}
}

func (s *ZapSink) Report(sev Severity, msg string) {
	if ce := s.l.Check(ZapLevel(sev), msg); ce != nil {
		ce.Write(zap.String("severity", sev.String()))
	}
}

func (s *ZapSink) Enabled(sev Severity) bool {
	return s.l.Core().Enabled(ZapLevel(sev))
}

func ZapLevel(sev Severity) zapcore.Level {
	switch sev {
	case SeverityTrace:
		return zapcore.DebugLevel
	case SeverityInfo:
		return zapcore.InfoLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
