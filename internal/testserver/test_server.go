package testserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/mcp"
	"github.com/rpggio/atelier/internal/metrics"
	"github.com/rpggio/atelier/internal/sqlite"
	"github.com/rpggio/atelier/internal/transport"
	"github.com/stretchr/testify/require"
)

// TestServer runs the HTTP surface in process: MCP on /mcp, Prometheus on
// /metrics and the WebSocket stream on /sessions/{id}/ws, backed by
// in-memory SQLite.
type TestServer struct {
	Server   *httptest.Server
	DB       *sqlite.DB
	Engine   *session.Engine
	Archive  *sqlite.ArchiveRepository
	Activity *activity.Service
	Metrics  *metrics.Metrics
}

func New(t *testing.T) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	archive := sqlite.NewArchiveRepository(db)
	activitySvc := activity.NewService(sqlite.NewActivityRepository(db), nil)
	registry := prometheus.NewRegistry()
	collabMetrics := metrics.New(registry)
	engine := session.NewEngine(nil, session.Options{
		Observers: []session.Subscriber{activitySvc, collabMetrics},
	}, nil)

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Engine:   engine,
			Archive:  archive,
			Activity: activitySvc,
		},
		TransportMode: "http",
	})
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{SessionTimeout: time.Minute},
	)

	server := httptest.NewServer(transport.NewServer(transport.Options{
		Engine:         engine,
		MCP:            mcpHandler,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Metrics:        collabMetrics,
	}))

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return &TestServer{
		Server:   server,
		DB:       db,
		Engine:   engine,
		Archive:  archive,
		Activity: activitySvc,
		Metrics:  collabMetrics,
	}
}

type userTransport struct {
	base   http.RoundTripper
	userID string
}

func (u *userTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(transport.UserHeader, u.userID)
	return u.base.RoundTrip(r)
}

// Connect opens an MCP client session acting as userID.
func (ts *TestServer) Connect(t *testing.T, userID string) *sdkmcp.ClientSession {
	t.Helper()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &sdkmcp.StreamableClientTransport{
		Endpoint: ts.Server.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &userTransport{base: http.DefaultTransport, userID: userID},
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// Dial opens the session's WebSocket stream acting as userID.
func (ts *TestServer) Dial(t *testing.T, sessionID, userID, name string) *websocket.Conn {
	t.Helper()

	q := url.Values{}
	q.Set("user_id", userID)
	if name != "" {
		q.Set("name", name)
	}
	wsURL := "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/sessions/" + sessionID + "/ws?" + q.Encode()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}
