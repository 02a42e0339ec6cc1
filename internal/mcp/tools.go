package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/repository"
)

// DefaultMaxSessionAge is the idle age cleanup_inactive_sessions uses when
// none is given.
const DefaultMaxSessionAge = 24 * time.Hour

var (
	errNoArchive  = errors.New("archive is not configured")
	errNoActivity = errors.New("activity log is not configured")
	errNoPresence = errors.New("presence is not configured")
)

type toolset struct {
	svc Services
}

func registerTools(server *sdkmcp.Server, svc Services) {
	t := &toolset{svc: svc}

	// Lifecycle
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_session",
		Description: "Create a collaboration session; the owner joins it and leaves any session they were in",
	}, t.createSession)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "join_session",
		Description: "Join a session as a collaborator, or rejoin it keeping the previous role",
	}, t.joinSession)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "leave_session",
		Description: "Leave the session the user is in",
	}, t.leaveSession)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "end_session",
		Description: "End a session for everyone; requires admin permission",
	}, t.endSession)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_sessions",
		Description: "List live sessions",
	}, t.listSessions)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "cleanup_inactive_sessions",
		Description: "End sessions idle for longer than max_age_hours",
	}, t.cleanup)

	// Editing
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "submit_operation",
		Description: "Submit one edit; concurrent conflicting edits are merged, spread apart or dropped",
	}, t.submitOperation)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "submit_operations",
		Description: "Submit several edits resolved together in one pass",
	}, t.submitOperations)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "update_cursor_position",
		Description: "Move the user's cursor",
	}, t.updateCursor)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "add_comment",
		Description: "Attach a comment to an element",
	}, t.addComment)

	// Reading
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_session_state",
		Description: "Snapshot of a session: info, participants, shared state and recent operations",
	}, t.getSessionState)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "export_session",
		Description: "Export the full session including its operation log, archiving it when an archive is configured",
	}, t.exportSession)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_archived_session",
		Description: "Read the last archived export of a session",
	}, t.getArchivedSession)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_archived_sessions",
		Description: "List archived sessions, most recently exported first",
	}, t.listArchivedSessions)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_recent_activity",
		Description: "Recent audit log entries, newest first",
	}, t.getRecentActivity)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_presence",
		Description: "Members currently online in a session and their last cursor positions",
	}, t.getPresence)
}

func (t *toolset) createSession(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateSessionParams) (*sdkmcp.CallToolResult, CreateSessionResponse, error) {
	ownerID := actingUser(ctx, in.OwnerID)
	sessionID, err := t.svc.Engine.CreateSession(ctx, in.Name, ownerID, in.OwnerName, fromSettings(in.Settings))
	if err != nil {
		return nil, CreateSessionResponse{}, toolError(err)
	}
	return nil, CreateSessionResponse{SessionID: sessionID}, nil
}

func (t *toolset) joinSession(ctx context.Context, _ *sdkmcp.CallToolRequest, in JoinSessionParams) (*sdkmcp.CallToolResult, JoinSessionResponse, error) {
	userID := actingUser(ctx, in.UserID)
	if err := t.svc.Engine.JoinSession(ctx, in.SessionID, userID, in.UserName); err != nil {
		return nil, JoinSessionResponse{}, toolError(err)
	}
	return nil, JoinSessionResponse{SessionID: in.SessionID, UserID: userID}, nil
}

func (t *toolset) leaveSession(ctx context.Context, _ *sdkmcp.CallToolRequest, in UserParams) (*sdkmcp.CallToolResult, OKResponse, error) {
	if err := t.svc.Engine.LeaveSession(ctx, actingUser(ctx, in.UserID)); err != nil {
		return nil, OKResponse{}, toolError(err)
	}
	return nil, OKResponse{OK: true}, nil
}

func (t *toolset) endSession(ctx context.Context, _ *sdkmcp.CallToolRequest, in EndSessionParams) (*sdkmcp.CallToolResult, OKResponse, error) {
	if err := t.svc.Engine.EndSession(ctx, in.SessionID, actingUser(ctx, in.ActorID)); err != nil {
		return nil, OKResponse{}, toolError(err)
	}
	return nil, OKResponse{OK: true}, nil
}

func (t *toolset) listSessions(_ context.Context, _ *sdkmcp.CallToolRequest, _ struct{}) (*sdkmcp.CallToolResult, SessionListResponse, error) {
	infos := t.svc.Engine.Sessions()
	out := SessionListResponse{Sessions: make([]SessionInfoResponse, 0, len(infos))}
	for _, info := range infos {
		out.Sessions = append(out.Sessions, toInfo(info))
	}
	return nil, out, nil
}

func (t *toolset) cleanup(ctx context.Context, _ *sdkmcp.CallToolRequest, in CleanupParams) (*sdkmcp.CallToolResult, CleanupResponse, error) {
	maxAge := DefaultMaxSessionAge
	if in.MaxAgeHours < 0 {
		return nil, CleanupResponse{}, &APIError{Code: "INVALID_INPUT", Message: "max_age_hours must not be negative"}
	}
	if in.MaxAgeHours > 0 {
		maxAge = time.Duration(in.MaxAgeHours * float64(time.Hour))
	}
	return nil, CleanupResponse{Removed: t.svc.Engine.CleanupInactiveSessions(ctx, maxAge)}, nil
}

func decodeEdit(typ, targetID string, data map[string]any) (session.Edit, error) {
	opType, err := operation.ParseType(typ)
	if err != nil {
		return session.Edit{}, err
	}
	payload, err := operation.Decode(opType, data)
	if err != nil {
		return session.Edit{}, err
	}
	return session.Edit{TargetID: targetID, Payload: payload}, nil
}

func (t *toolset) submitOperation(ctx context.Context, _ *sdkmcp.CallToolRequest, in SubmitOperationParams) (*sdkmcp.CallToolResult, SubmitResponse, error) {
	edit, err := decodeEdit(in.Type, in.TargetID, in.Data)
	if err != nil {
		return nil, SubmitResponse{}, toolError(err)
	}
	res, err := t.svc.Engine.SubmitOperation(ctx, actingUser(ctx, in.UserID), edit.TargetID, edit.Payload)
	if err != nil {
		return nil, SubmitResponse{}, toolError(err)
	}
	return nil, toSubmit(res), nil
}

func (t *toolset) submitOperations(ctx context.Context, _ *sdkmcp.CallToolRequest, in SubmitOperationsParams) (*sdkmcp.CallToolResult, SubmitBatchResponse, error) {
	edits := make([]session.Edit, 0, len(in.Operations))
	for i, op := range in.Operations {
		edit, err := decodeEdit(op.Type, op.TargetID, op.Data)
		if err != nil {
			return nil, SubmitBatchResponse{}, toolError(fmt.Errorf("operation %d: %w", i, err))
		}
		edits = append(edits, edit)
	}
	results, err := t.svc.Engine.SubmitBatch(ctx, actingUser(ctx, in.UserID), edits)
	if err != nil {
		return nil, SubmitBatchResponse{}, toolError(err)
	}
	out := SubmitBatchResponse{Results: make([]SubmitResponse, 0, len(results))}
	for _, res := range results {
		out.Results = append(out.Results, toSubmit(res))
	}
	return nil, out, nil
}

func (t *toolset) updateCursor(ctx context.Context, _ *sdkmcp.CallToolRequest, in CursorParams) (*sdkmcp.CallToolResult, SubmitResponse, error) {
	res, err := t.svc.Engine.UpdateCursorPosition(ctx, actingUser(ctx, in.UserID), in.X, in.Y)
	if err != nil {
		return nil, SubmitResponse{}, toolError(err)
	}
	return nil, toSubmit(res), nil
}

func (t *toolset) addComment(ctx context.Context, _ *sdkmcp.CallToolRequest, in AddCommentParams) (*sdkmcp.CallToolResult, SubmitResponse, error) {
	res, err := t.svc.Engine.AddComment(ctx, actingUser(ctx, in.UserID), in.TargetID, in.Text)
	if err != nil {
		return nil, SubmitResponse{}, toolError(err)
	}
	return nil, toSubmit(res), nil
}

func (t *toolset) getSessionState(_ context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, SessionStateResponse, error) {
	st, err := t.svc.Engine.GetSessionState(in.SessionID)
	if err != nil {
		return nil, SessionStateResponse{}, toolError(err)
	}
	return nil, toState(st), nil
}

// captureDestination records the export it is handed before passing it on.
type captureDestination struct {
	next   session.Destination
	export *session.Export
}

func (c *captureDestination) WriteExport(ctx context.Context, export *session.Export) error {
	c.export = export
	if c.next == nil {
		return nil
	}
	return c.next.WriteExport(ctx, export)
}

func (t *toolset) exportSession(ctx context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, ExportResponse, error) {
	capture := &captureDestination{}
	if t.svc.Archive != nil {
		capture.next = t.svc.Archive
	}
	if err := t.svc.Engine.ExportSessionData(ctx, in.SessionID, capture); err != nil {
		return nil, ExportResponse{}, toolError(err)
	}
	out := toExport(capture.export)
	out.Archived = capture.next != nil
	return nil, out, nil
}

func (t *toolset) getArchivedSession(ctx context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, ExportResponse, error) {
	if t.svc.Archive == nil {
		return nil, ExportResponse{}, errNoArchive
	}
	export, err := t.svc.Archive.Get(ctx, in.SessionID)
	if err != nil {
		return nil, ExportResponse{}, toolError(err)
	}
	out := toExport(export)
	out.Archived = true
	return nil, out, nil
}

func (t *toolset) listArchivedSessions(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListArchivesParams) (*sdkmcp.CallToolResult, ArchiveListResponse, error) {
	if t.svc.Archive == nil {
		return nil, ArchiveListResponse{}, errNoArchive
	}
	list, err := t.svc.Archive.List(ctx, repository.ListArchivesOptions{
		OwnerID: in.OwnerID,
		Limit:   in.Limit,
		Offset:  in.Offset,
	})
	if err != nil {
		return nil, ArchiveListResponse{}, toolError(err)
	}
	return nil, ArchiveListResponse{Archives: toArchiveSummaries(list)}, nil
}

func (t *toolset) getRecentActivity(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetRecentActivityParams) (*sdkmcp.CallToolResult, ActivityResponse, error) {
	if t.svc.Activity == nil {
		return nil, ActivityResponse{}, errNoActivity
	}
	opts := activity.ListActivityOptions{
		SessionID: in.SessionID,
		Limit:     in.Limit,
		Offset:    in.Offset,
	}
	if in.UserID != "" {
		userID := in.UserID
		opts.UserID = &userID
	}
	entries, err := t.svc.Activity.GetRecentActivity(ctx, opts)
	if err != nil {
		return nil, ActivityResponse{}, toolError(err)
	}
	return nil, ActivityResponse{Entries: toActivity(entries)}, nil
}

func (t *toolset) getPresence(ctx context.Context, _ *sdkmcp.CallToolRequest, in SessionParams) (*sdkmcp.CallToolResult, PresenceResponse, error) {
	if t.svc.Presence == nil {
		return nil, PresenceResponse{}, errNoPresence
	}
	members, err := t.svc.Presence.Members(ctx, in.SessionID)
	if err != nil {
		return nil, PresenceResponse{}, err
	}
	out := PresenceResponse{Members: make([]PresenceMember, 0, len(members))}
	for _, m := range members {
		member := toMember(m)
		pos, ok, err := t.svc.Presence.Cursor(ctx, in.SessionID, m.UserID)
		if err != nil {
			return nil, PresenceResponse{}, err
		}
		if ok {
			p := toPoint(pos)
			member.Cursor = &p
		}
		out.Members = append(out.Members, member)
	}
	return nil, out, nil
}
