package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/mcp"
	"github.com/rpggio/atelier/internal/presence"
	"github.com/rpggio/atelier/internal/repository"
	"github.com/rpggio/atelier/internal/repository/mocks"
	"github.com/rpggio/atelier/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type env struct {
	engine   *session.Engine
	archive  *sqlite.ArchiveRepository
	activity *activity.Service
	presence *presence.Tracker
	client   *sdkmcp.ClientSession
}

func newEnv(t *testing.T, defaultUser string) *env {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { _ = db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &env{
		archive:  sqlite.NewArchiveRepository(db),
		activity: activity.NewService(sqlite.NewActivityRepository(db), nil),
		presence: presence.NewTracker(rdb, time.Minute, nil),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.presence.Close(ctx)
	})
	e.engine = session.NewEngine(nil, session.Options{
		Observers: []session.Subscriber{e.activity, e.presence},
	}, nil)

	server := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Engine:   e.engine,
			Archive:  e.archive,
			Activity: e.activity,
			Presence: e.presence,
		},
		DefaultUser: defaultUser,
	})
	e.client = connect(t, server)
	return e
}

func connect(t *testing.T, server *sdkmcp.Server) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *sdkmcp.ClientSession, name string, args any, out any) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, res.IsError, "tool %s failed: %s", name, resultText(res))
	if out == nil {
		return
	}
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func callToolError(t *testing.T, cs *sdkmcp.ClientSession, name string, args any) string {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error()
	}
	require.True(t, res.IsError, "expected %s to fail", name)
	return resultText(res)
}

func resultText(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if text, ok := c.(*sdkmcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func (e *env) createSession(t *testing.T) string {
	t.Helper()
	var created mcp.CreateSessionResponse
	callTool(t, e.client, "create_session", map[string]any{
		"name":       "Studio",
		"owner_id":   "owner",
		"owner_name": "Olive",
	}, &created)
	require.NotEmpty(t, created.SessionID)

	callTool(t, e.client, "join_session", map[string]any{
		"session_id": created.SessionID,
		"user_id":    "u2",
		"user_name":  "Bea",
	}, nil)
	return created.SessionID
}

func TestServer_ListTools(t *testing.T) {
	e := newEnv(t, "")

	res, err := e.client.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"create_session", "join_session", "leave_session", "end_session",
		"submit_operation", "submit_operations", "update_cursor_position", "add_comment",
		"get_session_state", "export_session", "get_archived_session", "list_archived_sessions",
		"get_recent_activity", "cleanup_inactive_sessions", "get_presence", "list_sessions",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestServer_ThemeUpdateFlow(t *testing.T) {
	e := newEnv(t, "")
	sessionID := e.createSession(t)

	var submitted mcp.SubmitResponse
	callTool(t, e.client, "submit_operation", map[string]any{
		"user_id":   "u2",
		"type":      "update",
		"target_id": "theme",
		"data":      map[string]any{"value": "sunset"},
	}, &submitted)
	assert.Equal(t, "applied", submitted.Status)
	require.NotNil(t, submitted.Applied)
	assert.Equal(t, submitted.OperationID, submitted.Applied.ID)
	assert.Equal(t, "Bea", submitted.Applied.UserName)
	assert.Empty(t, submitted.Applied.Conflicts)

	var state mcp.SessionStateResponse
	callTool(t, e.client, "get_session_state", map[string]any{"session_id": sessionID}, &state)
	assert.Equal(t, "sunset", state.SharedState.CurrentTheme)
	assert.Equal(t, "owner", state.SessionInfo.OwnerID)
	assert.True(t, state.SessionInfo.Active)
	assert.Len(t, state.Participants, 2)
	require.Len(t, state.RecentOperations, 1)
	assert.Equal(t, "update", state.RecentOperations[0].Type)
}

func TestServer_BatchMergesNumericUpdates(t *testing.T) {
	e := newEnv(t, "")
	e.createSession(t)

	var batch mcp.SubmitBatchResponse
	callTool(t, e.client, "submit_operations", map[string]any{
		"user_id": "u2",
		"operations": []map[string]any{
			{"type": "update", "target_id": "shape", "data": map[string]any{"width": 10}},
			{"type": "update", "target_id": "shape", "data": map[string]any{"width": 20}},
		},
	}, &batch)

	require.Len(t, batch.Results, 2)
	assert.Equal(t, "applied", batch.Results[0].Status)
	assert.Equal(t, "transformed", batch.Results[1].Status)
	require.NotNil(t, batch.Results[1].Applied)
	assert.Equal(t, 15.0, batch.Results[1].Applied.Data["width"])
	assert.Equal(t, []string{batch.Results[0].OperationID}, batch.Results[1].Applied.Conflicts)
	assert.NotEmpty(t, batch.Results[0].OperationID)
	assert.Empty(t, batch.Results[1].OperationID)
}

func TestServer_ErrorCodes(t *testing.T) {
	e := newEnv(t, "")
	sessionID := e.createSession(t)

	msg := callToolError(t, e.client, "join_session", map[string]any{
		"session_id": "missing",
		"user_id":    "u3",
	})
	assert.Contains(t, msg, "SESSION_NOT_FOUND")

	msg = callToolError(t, e.client, "submit_operation", map[string]any{
		"user_id":   "u2",
		"type":      "explode",
		"target_id": "shape",
	})
	assert.Contains(t, msg, "INVALID_OPERATION")

	msg = callToolError(t, e.client, "submit_operation", map[string]any{
		"user_id":   "stranger",
		"type":      "delete",
		"target_id": "shape",
	})
	assert.Contains(t, msg, "NOT_IN_SESSION")

	msg = callToolError(t, e.client, "end_session", map[string]any{
		"session_id": sessionID,
		"actor_id":   "u2",
	})
	assert.Contains(t, msg, "PERMISSION_DENIED")

	msg = callToolError(t, e.client, "add_comment", map[string]any{
		"user_id":   "u2",
		"target_id": "shape",
		"text":      "   ",
	})
	assert.Contains(t, msg, "INVALID")
}

func TestServer_DefaultCaller(t *testing.T) {
	e := newEnv(t, "owner")

	var created mcp.CreateSessionResponse
	callTool(t, e.client, "create_session", map[string]any{
		"name":       "Studio",
		"owner_name": "Olive",
	}, &created)

	var state mcp.SessionStateResponse
	callTool(t, e.client, "get_session_state", map[string]any{"session_id": created.SessionID}, &state)
	assert.Equal(t, "owner", state.SessionInfo.OwnerID)

	callTool(t, e.client, "end_session", map[string]any{"session_id": created.SessionID}, nil)
	callTool(t, e.client, "get_session_state", map[string]any{"session_id": created.SessionID}, &state)
	assert.False(t, state.SessionInfo.Active)
}

func TestServer_CallerFromMeta(t *testing.T) {
	e := newEnv(t, "")
	sessionID := e.createSession(t)

	res, err := e.client.CallTool(context.Background(), &sdkmcp.CallToolParams{
		Meta:      sdkmcp.Meta{"user_id": "u2"},
		Name:      "add_comment",
		Arguments: map[string]any{"target_id": "shape", "text": "lovely"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	st, err := e.engine.GetSessionState(sessionID)
	require.NoError(t, err)
	require.Len(t, st.SharedState.Comments, 1)
	assert.Equal(t, "u2", st.SharedState.Comments[0].UserID)
}

func TestServer_ExportAndArchive(t *testing.T) {
	e := newEnv(t, "")
	sessionID := e.createSession(t)

	callTool(t, e.client, "update_cursor_position", map[string]any{"user_id": "u2", "x": 5, "y": 6}, nil)
	callTool(t, e.client, "add_comment", map[string]any{"user_id": "u2", "target_id": "shape", "text": "nice"}, nil)

	var exported mcp.ExportResponse
	callTool(t, e.client, "export_session", map[string]any{"session_id": sessionID}, &exported)
	assert.True(t, exported.Archived)
	assert.Equal(t, 10, exported.Settings.MaxParticipants)
	assert.Equal(t, []string{"view", "comment"}, exported.Settings.Permissions["all"])
	require.Len(t, exported.OperationLog, 2)
	assert.NotEmpty(t, exported.ExportedAt)

	var archived mcp.ExportResponse
	callTool(t, e.client, "get_archived_session", map[string]any{"session_id": sessionID}, &archived)
	require.Len(t, archived.OperationLog, 2)
	assert.Equal(t, "cursor_move", archived.OperationLog[0].Type)
	assert.Equal(t, "comment", archived.OperationLog[1].Type)
	require.Len(t, archived.SharedState.Comments, 1)

	var list mcp.ArchiveListResponse
	callTool(t, e.client, "list_archived_sessions", map[string]any{"owner_id": "owner"}, &list)
	require.Len(t, list.Archives, 1)
	assert.Equal(t, 2, list.Archives[0].Operations)

	msg := callToolError(t, e.client, "get_archived_session", map[string]any{"session_id": "missing"})
	assert.Contains(t, msg, "NOT_FOUND")
}

func TestServer_RecentActivity(t *testing.T) {
	e := newEnv(t, "")
	sessionID := e.createSession(t)
	callTool(t, e.client, "submit_operation", map[string]any{
		"user_id":   "owner",
		"type":      "delete",
		"target_id": "shape",
	}, nil)

	var out mcp.ActivityResponse
	callTool(t, e.client, "get_recent_activity", map[string]any{"session_id": sessionID}, &out)
	require.Len(t, out.Entries, 3)
	assert.Equal(t, "operation_applied", out.Entries[0].Type)
	assert.NotEmpty(t, out.Entries[0].OperationID)
	assert.Equal(t, "session_created", out.Entries[2].Type)

	callTool(t, e.client, "get_recent_activity", map[string]any{"session_id": sessionID, "user_id": "u2"}, &out)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "user_joined", out.Entries[0].Type)
}

func TestServer_Presence(t *testing.T) {
	e := newEnv(t, "")
	sessionID := e.createSession(t)
	callTool(t, e.client, "update_cursor_position", map[string]any{"user_id": "u2", "x": 30, "y": 40}, nil)
	require.Eventually(t, func() bool {
		_, ok, err := e.presence.Cursor(context.Background(), sessionID, "u2")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	var out mcp.PresenceResponse
	callTool(t, e.client, "get_presence", map[string]any{"session_id": sessionID}, &out)
	require.Len(t, out.Members, 2)
	assert.Equal(t, "owner", out.Members[0].UserID)
	assert.Nil(t, out.Members[0].Cursor)
	assert.Equal(t, "Bea", out.Members[1].Name)
	require.NotNil(t, out.Members[1].Cursor)
	assert.Equal(t, mcp.Point{X: 30, Y: 40}, *out.Members[1].Cursor)
}

func TestServer_ListAndCleanup(t *testing.T) {
	e := newEnv(t, "")
	e.createSession(t)

	var list mcp.SessionListResponse
	callTool(t, e.client, "list_sessions", map[string]any{}, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "Studio", list.Sessions[0].Name)

	var cleanup mcp.CleanupResponse
	callTool(t, e.client, "cleanup_inactive_sessions", map[string]any{}, &cleanup)
	assert.Equal(t, 0, cleanup.Removed)

	msg := callToolError(t, e.client, "cleanup_inactive_sessions", map[string]any{"max_age_hours": -1})
	assert.Contains(t, msg, "INVALID_INPUT")
}

func TestServer_OptionalServices(t *testing.T) {
	engine := session.NewEngine(nil, session.Options{}, nil)
	cs := connect(t, mcp.NewServer(mcp.Config{Services: mcp.Services{Engine: engine}}))

	callTool(t, cs, "create_session", map[string]any{"name": "Solo", "owner_id": "owner", "owner_name": "Olive"}, nil)
	sessionID, ok := engine.SessionOf("owner")
	require.True(t, ok)

	var exported mcp.ExportResponse
	callTool(t, cs, "export_session", map[string]any{"session_id": sessionID}, &exported)
	assert.False(t, exported.Archived)

	msg := callToolError(t, cs, "get_recent_activity", map[string]any{})
	assert.Contains(t, msg, "not configured")
	msg = callToolError(t, cs, "get_presence", map[string]any{"session_id": sessionID})
	assert.Contains(t, msg, "not configured")
}

func TestServer_ArchiveFailures(t *testing.T) {
	engine := session.NewEngine(nil, session.Options{}, nil)
	archive := &mocks.ArchiveRepository{}
	cs := connect(t, mcp.NewServer(mcp.Config{Services: mcp.Services{Engine: engine, Archive: archive}}))

	callTool(t, cs, "create_session", map[string]any{"name": "Flaky", "owner_id": "owner", "owner_name": "Olive"}, nil)
	sessionID, ok := engine.SessionOf("owner")
	require.True(t, ok)

	archive.On("WriteExport", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	msg := callToolError(t, cs, "export_session", map[string]any{"session_id": sessionID})
	assert.Contains(t, msg, "disk full")

	archive.On("Get", mock.Anything, "gone").Return(nil, repository.ErrNotFound).Once()
	msg = callToolError(t, cs, "get_archived_session", map[string]any{"session_id": "gone"})
	assert.Contains(t, msg, "NOT_FOUND")

	archive.AssertExpectations(t)
}
