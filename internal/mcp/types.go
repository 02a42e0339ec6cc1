package mcp

import (
	"time"

	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/presence"
	"github.com/rpggio/atelier/internal/repository"
)

type SettingsInput struct {
	MaxParticipants    int                 `json:"max_participants,omitempty" jsonschema:"maximum number of active participants"`
	AutoSaveInterval   int                 `json:"auto_save_interval,omitempty" jsonschema:"auto save interval in seconds"`
	ConflictResolution string              `json:"conflict_resolution,omitempty" jsonschema:"conflict resolution mode, only auto is supported"`
	Permissions        map[string][]string `json:"permissions,omitempty" jsonschema:"permission groups (all, collaborators, owner) to permissions (view, edit, comment, admin)"`
}

type CreateSessionParams struct {
	Name      string         `json:"name" jsonschema:"session display name"`
	OwnerID   string         `json:"owner_id,omitempty" jsonschema:"user id of the owner; defaults to the caller"`
	OwnerName string         `json:"owner_name" jsonschema:"display name of the owner"`
	Settings  *SettingsInput `json:"settings,omitempty" jsonschema:"session settings; omitted fields use server defaults"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id" jsonschema:"new session identifier"`
}

type JoinSessionParams struct {
	SessionID string `json:"session_id" jsonschema:"session to join"`
	UserID    string `json:"user_id,omitempty" jsonschema:"joining user; defaults to the caller"`
	UserName  string `json:"user_name,omitempty" jsonschema:"display name; a returning user keeps the old one when empty"`
}

type JoinSessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type UserParams struct {
	UserID string `json:"user_id,omitempty" jsonschema:"acting user; defaults to the caller"`
}

type EndSessionParams struct {
	SessionID string `json:"session_id" jsonschema:"session to end"`
	ActorID   string `json:"actor_id,omitempty" jsonschema:"user ending the session; needs admin permission; defaults to the caller"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type EditInput struct {
	Type     string         `json:"type" jsonschema:"operation type (create, update, delete, move, style_change, parameter_change, media_upload, comment, cursor_move, selection)"`
	TargetID string         `json:"target_id" jsonschema:"element the operation applies to"`
	Data     map[string]any `json:"data,omitempty" jsonschema:"type specific payload"`
}

type SubmitOperationParams struct {
	UserID   string         `json:"user_id,omitempty" jsonschema:"submitting user; defaults to the caller"`
	Type     string         `json:"type" jsonschema:"operation type (create, update, delete, move, style_change, parameter_change, media_upload, comment, cursor_move, selection)"`
	TargetID string         `json:"target_id" jsonschema:"element the operation applies to"`
	Data     map[string]any `json:"data,omitempty" jsonschema:"type specific payload"`
}

type SubmitOperationsParams struct {
	UserID     string      `json:"user_id,omitempty" jsonschema:"submitting user; defaults to the caller"`
	Operations []EditInput `json:"operations" jsonschema:"operations resolved together in one pass"`
}

type CursorParams struct {
	UserID string  `json:"user_id,omitempty" jsonschema:"acting user; defaults to the caller"`
	X      float64 `json:"x" jsonschema:"cursor x coordinate"`
	Y      float64 `json:"y" jsonschema:"cursor y coordinate"`
}

type AddCommentParams struct {
	UserID   string `json:"user_id,omitempty" jsonschema:"commenting user; defaults to the caller"`
	TargetID string `json:"target_id" jsonschema:"element the comment is attached to"`
	Text     string `json:"text" jsonschema:"comment text"`
}

type SessionParams struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
}

type ListArchivesParams struct {
	OwnerID string `json:"owner_id,omitempty" jsonschema:"only archives owned by this user"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
	Offset  int    `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

type GetRecentActivityParams struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"only activity of this session"`
	UserID    string `json:"user_id,omitempty" jsonschema:"only activity of this user"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
	Offset    int    `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

type CleanupParams struct {
	MaxAgeHours float64 `json:"max_age_hours,omitempty" jsonschema:"idle age in hours after which a session is ended; defaults to 24"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type OperationResponse struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Type      string         `json:"type"`
	TargetID  string         `json:"target_id"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
	Applied   bool           `json:"applied"`
	Conflicts []string       `json:"conflicts"`
}

type SubmitResponse struct {
	OperationID string             `json:"operation_id,omitempty" jsonschema:"id of the submitted operation, set only when it was applied unchanged"`
	Status      string             `json:"status" jsonschema:"applied, transformed or dropped"`
	Applied     *OperationResponse `json:"applied,omitempty" jsonschema:"operation that reached the log"`
}

type SubmitBatchResponse struct {
	Results []SubmitResponse `json:"results"`
}

type SessionInfoResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OwnerID      string `json:"owner_id"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	Active       bool   `json:"active"`
}

type SettingsResponse struct {
	MaxParticipants    int                 `json:"max_participants"`
	AutoSaveInterval   int                 `json:"auto_save_interval"`
	ConflictResolution string              `json:"conflict_resolution"`
	Permissions        map[string][]string `json:"permissions"`
}

type ParticipantResponse struct {
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Role           string         `json:"role"`
	JoinedAt       string         `json:"joined_at"`
	CursorPosition Point          `json:"cursor_position"`
	Selection      map[string]any `json:"selection,omitempty"`
	Active         bool           `json:"active"`
}

type MediaAssetResponse struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	URL        string  `json:"url"`
	UploadedBy string  `json:"uploaded_by"`
	Timestamp  float64 `json:"timestamp"`
}

type CommentResponse struct {
	ID        string  `json:"id"`
	TargetID  string  `json:"target_id"`
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

type SharedStateResponse struct {
	CurrentTheme     string               `json:"current_theme"`
	GenerationParams map[string]any       `json:"generation_params"`
	MediaAssets      []MediaAssetResponse `json:"media_assets"`
	Comments         []CommentResponse    `json:"comments"`
}

type SessionStateResponse struct {
	SessionInfo      SessionInfoResponse   `json:"session_info"`
	Participants     []ParticipantResponse `json:"participants"`
	SharedState      SharedStateResponse   `json:"shared_state"`
	RecentOperations []OperationResponse   `json:"recent_operations"`
}

type ExportResponse struct {
	SessionInfo  SessionInfoResponse   `json:"session_info"`
	Settings     SettingsResponse      `json:"settings"`
	Participants []ParticipantResponse `json:"participants"`
	SharedState  SharedStateResponse   `json:"shared_state"`
	OperationLog []OperationResponse   `json:"operation_log"`
	ExportedAt   string                `json:"exported_at"`
	Archived     bool                  `json:"archived" jsonschema:"whether the export was written to the archive"`
}

type SessionListResponse struct {
	Sessions []SessionInfoResponse `json:"sessions"`
}

type ArchiveSummaryResponse struct {
	SessionID    string `json:"session_id"`
	Name         string `json:"name"`
	OwnerID      string `json:"owner_id"`
	Active       bool   `json:"active"`
	Operations   int    `json:"operations"`
	LastActivity string `json:"last_activity"`
	ExportedAt   string `json:"exported_at"`
}

type ArchiveListResponse struct {
	Archives []ArchiveSummaryResponse `json:"archives"`
}

type ActivityEntryResponse struct {
	ID          int64  `json:"id"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Type        string `json:"type"`
	Summary     string `json:"summary"`
	Details     string `json:"details,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ActivityResponse struct {
	Entries []ActivityEntryResponse `json:"entries"`
}

type PresenceMember struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Cursor *Point `json:"cursor,omitempty"`
}

type PresenceResponse struct {
	Members []PresenceMember `json:"members"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringValue(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

func toPoint(p operation.Point) Point {
	return Point{X: p.X, Y: p.Y}
}

func toOperation(op *operation.Operation) OperationResponse {
	conflicts := op.Conflicts
	if conflicts == nil {
		conflicts = []string{}
	}
	return OperationResponse{
		ID:        op.ID,
		SessionID: op.SessionID,
		UserID:    op.UserID,
		UserName:  op.UserName,
		Type:      string(op.Type()),
		TargetID:  op.TargetID,
		Data:      op.Data(),
		Timestamp: op.Timestamp,
		Applied:   op.Applied,
		Conflicts: conflicts,
	}
}

func toOperations(ops []*operation.Operation) []OperationResponse {
	out := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperation(op))
	}
	return out
}

func toSubmit(res session.SubmitResult) SubmitResponse {
	out := SubmitResponse{Status: string(res.Status)}
	if res.Status == session.StatusApplied {
		out.OperationID = res.OperationID
	}
	if res.Applied != nil {
		applied := toOperation(res.Applied)
		out.Applied = &applied
	}
	return out
}

func toInfo(info session.Info) SessionInfoResponse {
	return SessionInfoResponse{
		ID:           info.ID,
		Name:         info.Name,
		OwnerID:      info.OwnerID,
		CreatedAt:    formatTime(info.CreatedAt),
		LastActivity: formatTime(info.LastActivity),
		Active:       info.Active,
	}
}

func toSettings(s session.Settings) SettingsResponse {
	perms := make(map[string][]string, len(s.Permissions))
	for group, list := range s.Permissions {
		names := make([]string, 0, len(list))
		for _, p := range list {
			names = append(names, string(p))
		}
		perms[group] = names
	}
	return SettingsResponse{
		MaxParticipants:    s.MaxParticipants,
		AutoSaveInterval:   s.AutoSaveInterval,
		ConflictResolution: s.ConflictResolution,
		Permissions:        perms,
	}
}

func fromSettings(in *SettingsInput) *session.Settings {
	if in == nil {
		return nil
	}
	out := &session.Settings{
		MaxParticipants:    in.MaxParticipants,
		AutoSaveInterval:   in.AutoSaveInterval,
		ConflictResolution: in.ConflictResolution,
	}
	if len(in.Permissions) > 0 {
		out.Permissions = make(map[string][]session.Permission, len(in.Permissions))
		for group, list := range in.Permissions {
			perms := make([]session.Permission, 0, len(list))
			for _, p := range list {
				perms = append(perms, session.Permission(p))
			}
			out.Permissions[group] = perms
		}
	}
	return out
}

func toParticipants(list []session.Participant) []ParticipantResponse {
	out := make([]ParticipantResponse, 0, len(list))
	for _, p := range list {
		out = append(out, ParticipantResponse{
			UserID:         p.UserID,
			Name:           p.Name,
			Role:           string(p.Role),
			JoinedAt:       formatTime(p.JoinedAt),
			CursorPosition: toPoint(p.CursorPosition),
			Selection:      p.Selection,
			Active:         p.Active,
		})
	}
	return out
}

func toSharedState(s session.SharedState) SharedStateResponse {
	out := SharedStateResponse{
		CurrentTheme:     s.CurrentTheme,
		GenerationParams: s.GenerationParams,
		MediaAssets:      make([]MediaAssetResponse, 0, len(s.MediaAssets)),
		Comments:         make([]CommentResponse, 0, len(s.Comments)),
	}
	if out.GenerationParams == nil {
		out.GenerationParams = map[string]any{}
	}
	for _, m := range s.MediaAssets {
		out.MediaAssets = append(out.MediaAssets, MediaAssetResponse(m))
	}
	for _, c := range s.Comments {
		out.Comments = append(out.Comments, CommentResponse(c))
	}
	return out
}

func toState(st *session.State) SessionStateResponse {
	return SessionStateResponse{
		SessionInfo:      toInfo(st.Info),
		Participants:     toParticipants(st.Participants),
		SharedState:      toSharedState(st.SharedState),
		RecentOperations: toOperations(st.RecentOperations),
	}
}

func toExport(e *session.Export) ExportResponse {
	return ExportResponse{
		SessionInfo:  toInfo(e.SessionInfo.Info),
		Settings:     toSettings(e.SessionInfo.Settings),
		Participants: toParticipants(e.Participants),
		SharedState:  toSharedState(e.SharedState),
		OperationLog: toOperations(e.OperationLog),
		ExportedAt:   formatTime(e.ExportedAt),
	}
}

func toArchiveSummaries(list []repository.ArchiveSummary) []ArchiveSummaryResponse {
	out := make([]ArchiveSummaryResponse, 0, len(list))
	for _, s := range list {
		out = append(out, ArchiveSummaryResponse{
			SessionID:    s.SessionID,
			Name:         s.Name,
			OwnerID:      s.OwnerID,
			Active:       s.Active,
			Operations:   s.Operations,
			LastActivity: formatTime(s.LastActivity),
			ExportedAt:   formatTime(s.ExportedAt),
		})
	}
	return out
}

func toActivity(entries []activity.ActivityEntry) []ActivityEntryResponse {
	out := make([]ActivityEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityEntryResponse{
			ID:          e.ID,
			SessionID:   e.SessionID,
			UserID:      stringValue(e.UserID),
			OperationID: stringValue(e.OperationID),
			Type:        string(e.ActivityType),
			Summary:     e.Summary,
			Details:     e.Details,
			CreatedAt:   formatTime(e.CreatedAt),
		})
	}
	return out
}

func toMember(m presence.Member) PresenceMember {
	return PresenceMember{UserID: m.UserID, Name: m.Name}
}
