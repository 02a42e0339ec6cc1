package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpggio/atelier/internal/domain/session"
)

// DefaultListLimit caps activity queries without an explicit limit.
const DefaultListLimit = 50

// Service handles activity log operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new activity service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, logger: logger}
}

// LogActivity logs an activity entry with the current timestamp if missing.
func (s *Service) LogActivity(ctx context.Context, entry *ActivityEntry) error {
	if entry == nil || entry.SessionID == "" {
		return ErrInvalidInput
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

// GetRecentActivity lists activity entries with filtering, newest first.
func (s *Service) GetRecentActivity(ctx context.Context, opts ListActivityOptions) ([]ActivityEntry, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	entries, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return entries, nil
}

// Notify records a session event in the activity log. It satisfies
// session.Subscriber so the service can observe the engine.
func (s *Service) Notify(ctx context.Context, ev session.Event) error {
	entry, err := entryFor(ev)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	return s.LogActivity(ctx, entry)
}

type operationDetails struct {
	Type      string   `json:"type"`
	TargetID  string   `json:"target_id"`
	Conflicts []string `json:"conflicts,omitempty"`
}

func entryFor(ev session.Event) (*ActivityEntry, error) {
	entry := &ActivityEntry{
		SessionID: ev.SessionID,
		CreatedAt: ev.Timestamp,
	}
	if ev.UserID != "" {
		userID := ev.UserID
		entry.UserID = &userID
	}

	switch ev.Type {
	case session.EventSessionCreated:
		entry.ActivityType = TypeSessionCreated
		entry.Summary = fmt.Sprintf("%s created the session", displayName(ev))
	case session.EventUserJoined:
		entry.ActivityType = TypeUserJoined
		entry.Summary = fmt.Sprintf("%s joined", displayName(ev))
	case session.EventUserLeft:
		entry.ActivityType = TypeUserLeft
		entry.Summary = fmt.Sprintf("%s left", displayName(ev))
	case session.EventSessionEnded:
		entry.ActivityType = TypeSessionEnded
		if ev.UserID == "" {
			entry.Summary = "session ended after inactivity"
		} else {
			entry.Summary = fmt.Sprintf("%s ended the session", displayName(ev))
		}
	case session.EventOperationApplied:
		op := ev.Operation
		if op == nil {
			return nil, ErrInvalidInput
		}
		opID := op.ID
		entry.OperationID = &opID
		entry.ActivityType = TypeOperationApplied
		if len(op.Conflicts) > 0 {
			entry.ActivityType = TypeOperationTransformed
		}
		entry.Summary = fmt.Sprintf("%s applied %s on %s", displayName(ev), op.Type(), op.TargetID)
		details, err := json.Marshal(operationDetails{
			Type:      string(op.Type()),
			TargetID:  op.TargetID,
			Conflicts: op.Conflicts,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding details: %w", err)
		}
		entry.Details = string(details)
	default:
		return nil, nil
	}
	return entry, nil
}

func displayName(ev session.Event) string {
	if ev.UserName != "" {
		return ev.UserName
	}
	if ev.UserID != "" {
		return ev.UserID
	}
	return "someone"
}
