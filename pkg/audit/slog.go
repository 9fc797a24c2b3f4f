package audit

import (
	"context"
	"log/slog"
)

// SlogLogger writes audit events to a structured logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger backed by logger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "audit")}
}

// Log writes the event at INFO, or WARN when the action failed.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "operator action",
		"id", event.ID,
		"actor", event.Actor,
		"action", string(event.Action),
		"session_id", event.SessionID,
		"lip_id", event.LipID,
		"success", event.Success,
		"error", event.ErrorMessage,
		"duration_ms", event.DurationMS,
	)
	return nil
}

// Close is a no-op.
func (*SlogLogger) Close() error {
	return nil
}

// NoopLogger discards every event.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(context.Context, Event) error { return nil }

// Close is a no-op.
func (NoopLogger) Close() error { return nil }

// Verify interface compliance.
var (
	_ Logger = (*SlogLogger)(nil)
	_ Logger = NoopLogger{}
)
