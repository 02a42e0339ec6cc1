package session

import (
	"time"

	"github.com/rpggio/atelier/internal/domain/operation"
)

// Role is a participant's role within a session.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
)

// Permission is a capability granted to a group of participants.
type Permission string

const (
	PermissionView    Permission = "view"
	PermissionEdit    Permission = "edit"
	PermissionComment Permission = "comment"
	PermissionAdmin   Permission = "admin"
)

// Permission groups used as keys of Settings.Permissions.
const (
	GroupAll           = "all"
	GroupCollaborators = "collaborators"
	GroupOwner         = "owner"
)

// Conflict resolution modes.
const (
	ResolutionAuto = "auto"
)

// Settings holds per-session configuration.
type Settings struct {
	MaxParticipants    int                     `json:"max_participants"`
	AutoSaveInterval   int                     `json:"auto_save_interval"`
	ConflictResolution string                  `json:"conflict_resolution"`
	Permissions        map[string][]Permission `json:"permissions"`
}

// DefaultSettings returns the settings applied when a session is created
// without explicit ones.
func DefaultSettings() Settings {
	return Settings{
		MaxParticipants:    10,
		AutoSaveInterval:   30,
		ConflictResolution: ResolutionAuto,
		Permissions: map[string][]Permission{
			GroupAll:           {PermissionView, PermissionComment},
			GroupCollaborators: {PermissionView, PermissionEdit, PermissionComment},
			GroupOwner:         {PermissionView, PermissionEdit, PermissionComment, PermissionAdmin},
		},
	}
}

func (s Settings) clone() Settings {
	cp := s
	if s.Permissions != nil {
		cp.Permissions = make(map[string][]Permission, len(s.Permissions))
		for group, perms := range s.Permissions {
			cp.Permissions[group] = append([]Permission(nil), perms...)
		}
	}
	return cp
}

// withDefaults fills zero fields from defaults.
func (s Settings) withDefaults(defaults Settings) Settings {
	out := s.clone()
	if out.MaxParticipants <= 0 {
		out.MaxParticipants = defaults.MaxParticipants
	}
	if out.AutoSaveInterval <= 0 {
		out.AutoSaveInterval = defaults.AutoSaveInterval
	}
	if out.ConflictResolution == "" {
		out.ConflictResolution = defaults.ConflictResolution
	}
	if len(out.Permissions) == 0 {
		out.Permissions = defaults.clone().Permissions
	}
	return out
}

// Participant is a member of a session. Participants are never removed, only
// marked inactive.
type Participant struct {
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	Role           Role            `json:"role"`
	JoinedAt       time.Time       `json:"joined_at"`
	CursorPosition operation.Point `json:"cursor_position"`
	Selection      map[string]any  `json:"selection"`
	Active         bool            `json:"active"`
}

func (p Participant) clone() Participant {
	cp := p
	if p.Selection != nil {
		cp.Selection = operation.CloneMap(p.Selection)
	}
	return cp
}

// MediaAsset references an uploaded asset.
type MediaAsset struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	URL        string  `json:"url"`
	UploadedBy string  `json:"uploaded_by"`
	Timestamp  float64 `json:"timestamp"`
}

// Comment is a note attached to a target.
type Comment struct {
	ID        string  `json:"id"`
	TargetID  string  `json:"target_id"`
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// SharedState is the document all participants edit.
type SharedState struct {
	CurrentTheme     string         `json:"current_theme"`
	GenerationParams map[string]any `json:"generation_params"`
	MediaAssets      []MediaAsset   `json:"media_assets"`
	Comments         []Comment      `json:"comments"`
}

func newSharedState() SharedState {
	return SharedState{
		GenerationParams: map[string]any{},
		MediaAssets:      []MediaAsset{},
		Comments:         []Comment{},
	}
}

func (s SharedState) clone() SharedState {
	return SharedState{
		CurrentTheme:     s.CurrentTheme,
		GenerationParams: operation.CloneMap(s.GenerationParams),
		MediaAssets:      append([]MediaAsset{}, s.MediaAssets...),
		Comments:         append([]Comment{}, s.Comments...),
	}
}

// Info describes session metadata.
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// State is a point-in-time snapshot of a session. It shares no memory with
// the engine.
type State struct {
	Info Info `json:"session_info"`
	// Participants are in join order, each carrying its user id.
	Participants     []Participant          `json:"participants"`
	SharedState      SharedState            `json:"shared_state"`
	RecentOperations []*operation.Operation `json:"recent_operations"`
}

// ExportInfo is session metadata including settings.
type ExportInfo struct {
	Info
	Settings Settings `json:"settings"`
}

// Export is the full audit document of a session.
type Export struct {
	SessionInfo  ExportInfo             `json:"session_info"`
	Participants []Participant          `json:"participants"`
	SharedState  SharedState            `json:"shared_state"`
	OperationLog []*operation.Operation `json:"operation_log"`
	ExportedAt   time.Time              `json:"exported_at"`
}

// Edit is one operation request inside a batch submission.
type Edit struct {
	TargetID string
	Payload  operation.Payload
}

// SubmitStatus describes what happened to a submitted operation.
type SubmitStatus string

const (
	// StatusApplied means the submitted operation was applied unchanged.
	StatusApplied SubmitStatus = "applied"
	// StatusTransformed means a rewritten operation was applied in its place.
	StatusTransformed SubmitStatus = "transformed"
	// StatusDropped means the operation was discarded by a delete.
	StatusDropped SubmitStatus = "dropped"
)

// SubmitResult reports the outcome of one submitted operation.
type SubmitResult struct {
	// OperationID is the id the operation was submitted with. Outward replies
	// expose it only for StatusApplied.
	OperationID string
	Status      SubmitStatus
	// Applied is the operation that reached the log, nil when dropped.
	Applied *operation.Operation
}
