package mcp

import (
	"context"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/presence"
	"github.com/rpggio/atelier/internal/repository"
)

// SessionEngine defines the collaboration operations needed by MCP.
type SessionEngine interface {
	CreateSession(ctx context.Context, name, ownerID, ownerName string, settings *session.Settings) (string, error)
	JoinSession(ctx context.Context, sessionID, userID, userName string) error
	LeaveSession(ctx context.Context, userID string) error
	EndSession(ctx context.Context, sessionID, actorID string) error
	SubmitOperation(ctx context.Context, userID, targetID string, payload operation.Payload) (session.SubmitResult, error)
	SubmitBatch(ctx context.Context, userID string, edits []session.Edit) ([]session.SubmitResult, error)
	UpdateCursorPosition(ctx context.Context, userID string, x, y float64) (session.SubmitResult, error)
	AddComment(ctx context.Context, userID, targetID, text string) (session.SubmitResult, error)
	GetSessionState(sessionID string) (*session.State, error)
	ExportSessionData(ctx context.Context, sessionID string, dest session.Destination) error
	CleanupInactiveSessions(ctx context.Context, maxAge time.Duration) int
	Sessions() []session.Info
}

// ActivityService defines activity operations needed by MCP.
type ActivityService interface {
	GetRecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

// PresenceService defines presence lookups needed by MCP.
type PresenceService interface {
	Members(ctx context.Context, sessionID string) ([]presence.Member, error)
	Cursor(ctx context.Context, sessionID, userID string) (operation.Point, bool, error)
}

// Services contains the collaborators needed by MCP. Archive, Activity and
// Presence are optional; their tools report an error when unset.
type Services struct {
	Engine   SessionEngine
	Archive  repository.ArchiveRepository
	Activity ActivityService
	Presence PresenceService
}

// Config contains server configuration.
type Config struct {
	Services      Services
	TransportMode string // "stdio" or "http"
	// DefaultUser is the caller assumed when a request names none.
	DefaultUser string
	Logger      *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "atelier",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Middleware added last runs first.
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddReceivingMiddleware(callerMiddleware(cfg.DefaultUser))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services)

	return server
}
