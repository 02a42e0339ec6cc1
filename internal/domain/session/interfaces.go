package session

import (
	"context"
	"time"

	"github.com/rpggio/atelier/internal/domain/operation"
)

// EventType names a session notification.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventOperationApplied EventType = "operation_applied"
	EventSessionEnded     EventType = "session_ended"
)

// Event is delivered to session subscribers and engine observers.
type Event struct {
	Type      EventType            `json:"type"`
	SessionID string               `json:"session_id"`
	UserID    string               `json:"user_id,omitempty"`
	UserName  string               `json:"user_name,omitempty"`
	Operation *operation.Operation `json:"operation,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Subscriber receives session events. Notify runs while the session is
// locked, so it must not call back into the engine for the same session.
type Subscriber interface {
	Notify(ctx context.Context, ev Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f SubscriberFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Destination stores session exports.
type Destination interface {
	WriteExport(ctx context.Context, export *Export) error
}

// Clock returns the current time.
type Clock func() time.Time
