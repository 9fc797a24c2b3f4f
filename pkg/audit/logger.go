// Package audit records operator actions taken against a live session.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

// Querier is implemented by loggers that can read events back.
type Querier interface {
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
}

// Event represents an auditable operator action.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	RequestID    string         `json:"request_id,omitempty"`
	Actor        string         `json:"actor"`
	Action       Action         `json:"action"`
	SessionID    int64          `json:"session_id,omitempty"`
	LipID        int64          `json:"lip_id,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Actor     string
	Action    Action
	SessionID int64
	Success   *bool
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}
