package monitor

import (
	"context"

	"go.uber.org/zap"

	"futures-core/internal/events"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(ctx context.Context, a events.Alert) error
}

// LogSink writes alerts to the process log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(_ context.Context, a events.Alert) error {
	l := s.Logger
	if l == nil {
		return nil
	}
	switch a.Level {
	case events.LevelCritical:
		l.Error("alert", zap.String("message", a.Message), zap.Time("at", a.Time))
	case events.LevelWarn:
		l.Warn("alert", zap.String("message", a.Message), zap.Time("at", a.Time))
	default:
		l.Info("alert", zap.String("message", a.Message), zap.Time("at", a.Time))
	}
	return nil
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(ctx context.Context, a events.Alert) error

func (f SinkFunc) Send(ctx context.Context, a events.Alert) error {
	return f(ctx, a)
}
