package audit

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Action names an operator action.
type Action string

// Audited actions.
const (
	ActionSessionCreate Action = "session.create"
	ActionSessionUpdate Action = "session.update"
	ActionSessionDelete Action = "session.delete"
	ActionSessionRun    Action = "session.run"
	ActionSessionPause  Action = "session.pause"
	ActionLipCreate     Action = "lip.create"
	ActionLipMove       Action = "lip.move"
	ActionLipDelete     Action = "lip.delete"
	ActionToolAddress   Action = "tool.address"
)

// NewEvent creates a new audit event.
func NewEvent(action Action) *Event {
	return &Event{
		ID:        generateEventID(),
		Timestamp: time.Now(),
		Action:    action,
	}
}

// WithActor sets who performed the action.
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithTarget sets the session and lip the action touched.
func (e *Event) WithTarget(sessionID, lipID int64) *Event {
	e.SessionID = sessionID
	e.LipID = lipID
	return e
}

// WithParameters adds parameters to the event.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = SanitizeParameters(params)
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(err error, duration time.Duration) *Event {
	e.Success = err == nil
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	e.DurationMS = duration.Milliseconds()
	return e
}

// WithRequestID adds a request ID to the event.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// SanitizeParameters redacts sensitive parameters.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"api_key":       true,
		"authorization": true,
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
