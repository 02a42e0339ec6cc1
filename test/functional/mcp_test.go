package functional_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/testserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID any `json:"id"`
}

func callTool(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any, out any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := cs.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err, "CallTool %s", name)
	require.False(t, res.IsError, "tool %s returned an error: %v", name, res.Content)
	if out == nil {
		return
	}
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// nextEvent skips frames until an event of type want arrives.
func nextEvent(t *testing.T, ws *websocket.Conn, want session.EventType) session.Event {
	t.Helper()
	for {
		f := readFrame(t, ws)
		if f.Method != "event" {
			continue
		}
		var ev session.Event
		require.NoError(t, json.Unmarshal(f.Params, &ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestHTTPFunctional_Health(t *testing.T) {
	ts := testserver.New(t)

	resp, err := http.Get(ts.Server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.Server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPFunctional_MCPAndWebSocketShareSessions(t *testing.T) {
	ts := testserver.New(t)
	olive := ts.Connect(t, "olive")

	var created struct {
		SessionID string `json:"session_id"`
	}
	callTool(t, olive, "create_session", map[string]any{"name": "Poster", "owner_name": "Olive"}, &created)
	require.NotEmpty(t, created.SessionID)

	ws := ts.Dial(t, created.SessionID, "bea", "Bea")
	welcome := readFrame(t, ws)
	require.Equal(t, "state", welcome.Method)

	callTool(t, olive, "submit_operation", map[string]any{
		"type":      "update",
		"target_id": "theme",
		"data":      map[string]any{"value": "risograph"},
	}, nil)

	ev := nextEvent(t, ws, session.EventOperationApplied)
	assert.Equal(t, "olive", ev.UserID)
	require.NotNil(t, ev.Operation)
	assert.Equal(t, "theme", ev.Operation.TargetID)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "comment",
		"params":  map[string]any{"target_id": "headline", "text": "bigger"},
	}))
	for {
		f := readFrame(t, ws)
		if f.ID == float64(7) {
			require.Nil(t, f.Error)
			break
		}
	}

	var state struct {
		Participants []struct {
			UserID string `json:"user_id"`
		} `json:"participants"`
		SharedState struct {
			CurrentTheme string `json:"current_theme"`
			Comments     []struct {
				Text string `json:"text"`
			} `json:"comments"`
		} `json:"shared_state"`
	}
	callTool(t, olive, "get_session_state", map[string]any{"session_id": created.SessionID}, &state)
	assert.Len(t, state.Participants, 2)
	assert.Equal(t, "risograph", state.SharedState.CurrentTheme)
	require.Len(t, state.SharedState.Comments, 1)
	assert.Equal(t, "bigger", state.SharedState.Comments[0].Text)
}

func TestHTTPFunctional_EndSessionClosesStreams(t *testing.T) {
	ts := testserver.New(t)
	olive := ts.Connect(t, "olive")

	var created struct {
		SessionID string `json:"session_id"`
	}
	callTool(t, olive, "create_session", map[string]any{"name": "Zine", "owner_name": "Olive"}, &created)

	ws := ts.Dial(t, created.SessionID, "bea", "Bea")
	require.Equal(t, "state", readFrame(t, ws).Method)

	var exported struct {
		Archived bool `json:"archived"`
	}
	callTool(t, olive, "export_session", map[string]any{"session_id": created.SessionID}, &exported)
	assert.True(t, exported.Archived)

	callTool(t, olive, "end_session", map[string]any{"session_id": created.SessionID}, nil)

	ev := nextEvent(t, ws, session.EventSessionEnded)
	assert.Equal(t, "olive", ev.UserID)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	archived, err := ts.Archive.Get(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Zine", archived.SessionInfo.Name)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.Metrics.SessionsEnded))
	assert.Equal(t, 0.0, testutil.ToFloat64(ts.Metrics.ActiveSessions))
}
