package repository

import (
	"context"
	"time"

	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/session"
)

// ActivityRepository manages activity log persistence
type ActivityRepository interface {
	Log(ctx context.Context, entry *activity.ActivityEntry) error
	List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

// ArchiveRepository stores session exports. It is the engine's export
// destination and serves read-back of the latest export of a session.
type ArchiveRepository interface {
	WriteExport(ctx context.Context, export *session.Export) error
	Get(ctx context.Context, sessionID string) (*session.Export, error)
	List(ctx context.Context, opts ListArchivesOptions) ([]ArchiveSummary, error)
}

// ListArchivesOptions provides filtering options for listing archives
type ListArchivesOptions struct {
	OwnerID string
	Limit   int
	Offset  int
}

// ArchiveSummary describes one archived session
type ArchiveSummary struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"owner_id"`
	Active       bool      `json:"active"`
	Operations   int       `json:"operations"`
	LastActivity time.Time `json:"last_activity"`
	ExportedAt   time.Time `json:"exported_at"`
}
