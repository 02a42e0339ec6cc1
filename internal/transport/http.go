package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/metrics"
	"golang.org/x/time/rate"
)

// SessionEngine defines the collaboration operations served over HTTP and
// WebSocket.
type SessionEngine interface {
	JoinSession(ctx context.Context, sessionID, userID, userName string) error
	SessionOf(userID string) (string, bool)
	Subscribe(sessionID string, sub session.Subscriber, initial func(*session.State)) (string, error)
	UnregisterConnection(sessionID, subscriptionID string) bool
	SubmitBatch(ctx context.Context, userID string, edits []session.Edit) ([]session.SubmitResult, error)
	UpdateCursorPosition(ctx context.Context, userID string, x, y float64) (session.SubmitResult, error)
	AddComment(ctx context.Context, userID, targetID, text string) (session.SubmitResult, error)
	GetSessionState(sessionID string) (*session.State, error)
	Sessions() []session.Info
}

// Options configures the router.
type Options struct {
	Engine SessionEngine
	// MCP serves /mcp when set.
	MCP http.Handler
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Metrics        *metrics.Metrics
	// MessageRate and MessageBurst bound inbound WebSocket requests per
	// connection. Zero rate means unlimited.
	MessageRate  float64
	MessageBurst int
	Logger       *slog.Logger
}

// Server wires HTTP handlers.
type Server struct {
	engine  SessionEngine
	metrics *metrics.Metrics
	limit   rate.Limit
	burst   int
	logger  *slog.Logger
}

// NewServer creates an HTTP server router with middleware.
func NewServer(opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := &Server{
		engine:  opts.Engine,
		metrics: opts.Metrics,
		limit:   rate.Inf,
		logger:  logger,
	}
	if opts.MessageRate > 0 {
		srv.limit = rate.Limit(opts.MessageRate)
		srv.burst = max(opts.MessageBurst, 1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(UserMiddleware)

	r.Get("/health", srv.handleHealth)
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
		r.Handle("/mcp/*", opts.MCP)
	}
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", srv.handleListSessions)
		r.Get("/{sessionID}", srv.handleSessionState)
		r.With(RequireUser).Get("/{sessionID}/ws", srv.handleWebSocket)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.engine.Sessions()})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetSessionState(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionFull):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionInactive):
		return http.StatusGone
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotInSession), errors.Is(err, session.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, operation.ErrInvalidPayload),
		errors.Is(err, operation.ErrUnknownType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
