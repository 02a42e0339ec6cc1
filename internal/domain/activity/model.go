package activity

import "time"

// ActivityType represents the type of activity event
type ActivityType string

const (
	TypeSessionCreated       ActivityType = "session_created"
	TypeUserJoined           ActivityType = "user_joined"
	TypeUserLeft             ActivityType = "user_left"
	TypeOperationApplied     ActivityType = "operation_applied"
	TypeOperationTransformed ActivityType = "operation_transformed"
	TypeSessionEnded         ActivityType = "session_ended"
)

// ActivityEntry represents an event in the activity log
type ActivityEntry struct {
	ID           int64        `json:"id"`
	SessionID    string       `json:"session_id"`
	UserID       *string      `json:"user_id,omitempty"`
	OperationID  *string      `json:"operation_id,omitempty"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"created_at"`
}
