package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/mcp"
	"github.com/rpggio/atelier/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var errSendBufferFull = errors.New("send buffer full")

var errMethodNotFound = errors.New("method not found")

var errRateLimited = errors.New("rate limit exceeded")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket streams session events to the caller and accepts edits.
// A caller that is not yet in the session joins it first, named by the
// name query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID, _ := UserFromContext(r.Context())

	if current, ok := s.engine.SessionOf(userID); !ok || current != sessionID {
		if err := s.engine.JoinSession(r.Context(), sessionID, userID, r.URL.Query().Get("name")); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sessionID, "user_id", userID, "error", err)
		return
	}

	c := &Conn{
		ws:        ws,
		engine:    s.engine,
		sessionID: sessionID,
		userID:    userID,
		limiter:   rate.NewLimiter(s.limit, s.burst),
		metrics:   s.metrics,
		logger:    s.logger,
		send:      make(chan outbound, sendBuffer),
	}

	// The snapshot is queued ahead of every event.
	subID, err := s.engine.Subscribe(sessionID, c, func(st *session.State) {
		c.enqueueFrame(NewNotification("state", st), false)
	})
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, err.Error()),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	s.logger.Debug("websocket connected", "session_id", sessionID, "user_id", userID, "subscription_id", subID)

	go c.writeLoop()

	c.readLoop(r.Context())

	s.engine.UnregisterConnection(sessionID, subID)
	close(c.send)
	s.logger.Debug("websocket disconnected", "session_id", sessionID, "user_id", userID)
}

type outbound struct {
	data  []byte
	final bool
}

// Conn is one WebSocket client of a session. It is registered with the
// engine as a broadcast subscriber.
type Conn struct {
	ws        *websocket.Conn
	engine    SessionEngine
	sessionID string
	userID    string
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	send      chan outbound
}

// Notify queues ev for the client without blocking. The connection closes
// after a session_ended event is written.
func (c *Conn) Notify(_ context.Context, ev session.Event) error {
	data, err := json.Marshal(NewNotification("event", ev))
	if err != nil {
		return err
	}
	return c.enqueue(outbound{data: data, final: ev.Type == session.EventSessionEnded})
}

func (c *Conn) enqueue(msg outbound) error {
	select {
	case c.send <- msg:
		return nil
	default:
		c.metrics.FrameDropped()
		return errSendBufferFull
	}
}

func (c *Conn) enqueueFrame(frame any, final bool) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("encoding websocket frame", "session_id", c.sessionID, "error", err)
		return
	}
	if err := c.enqueue(outbound{data: data, final: final}); err != nil {
		c.logger.Warn("dropping websocket frame", "session_id", c.sessionID, "user_id", c.userID, "error", err)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
			if msg.final {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "session_id", c.sessionID, "user_id", c.userID, "error", err)
			}
			return
		}
		c.handle(ctx, data)
	}
}

func (c *Conn) handle(ctx context.Context, data []byte) {
	req, err := ParseRequest(data)
	if err != nil {
		c.enqueueFrame(NewError(nil, ErrInvalidReq, err.Error(), nil), false)
		return
	}
	method := methodLabel(req.Method)
	if !c.limiter.Allow() {
		c.metrics.MessageReceived(method, "rate_limited")
		c.enqueueFrame(errorResponse(req.ID, errRateLimited), false)
		return
	}
	result, err := c.dispatch(ctx, req)
	if err != nil {
		c.metrics.MessageReceived(method, "error")
		c.enqueueFrame(errorResponse(req.ID, err), false)
		return
	}
	c.metrics.MessageReceived(method, "ok")
	c.enqueueFrame(NewResult(req.ID, result), false)
}

type editParams struct {
	Type     string         `json:"type"`
	TargetID string         `json:"target_id"`
	Data     map[string]any `json:"data,omitempty"`
}

type submitParams struct {
	editParams
	Operations []editParams `json:"operations,omitempty"`
}

type cursorParams struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type commentParams struct {
	TargetID string `json:"target_id"`
	Text     string `json:"text"`
}

type submitReply struct {
	OperationID string               `json:"operation_id,omitempty"`
	Status      session.SubmitStatus `json:"status"`
	Applied     *operation.Operation `json:"applied,omitempty"`
}

type paramsError struct {
	err error
}

func (e paramsError) Error() string { return e.err.Error() }
func (e paramsError) Unwrap() error { return e.err }

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return paramsError{err: err}
	}
	return nil
}

func (c *Conn) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "ping":
		return "pong", nil
	case "state":
		return c.engine.GetSessionState(c.sessionID)
	case "submit":
		var p submitParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		edits := p.Operations
		if len(edits) == 0 {
			edits = []editParams{p.editParams}
		}
		batch := make([]session.Edit, 0, len(edits))
		for i, e := range edits {
			t, err := operation.ParseType(e.Type)
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			payload, err := operation.Decode(t, e.Data)
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			batch = append(batch, session.Edit{TargetID: e.TargetID, Payload: payload})
		}
		results, err := c.engine.SubmitBatch(ctx, c.userID, batch)
		if err != nil {
			return nil, err
		}
		return toReplies(results), nil
	case "cursor":
		var p cursorParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res, err := c.engine.UpdateCursorPosition(ctx, c.userID, p.X, p.Y)
		if err != nil {
			return nil, err
		}
		return toReply(res), nil
	case "comment":
		var p commentParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res, err := c.engine.AddComment(ctx, c.userID, p.TargetID, p.Text)
		if err != nil {
			return nil, err
		}
		return toReply(res), nil
	default:
		return nil, errMethodNotFound
	}
}

func methodLabel(method string) string {
	switch method {
	case "ping", "state", "submit", "cursor", "comment":
		return method
	default:
		return "unknown"
	}
}

// toReply carries the submitted id only when that operation reached the log.
func toReply(res session.SubmitResult) submitReply {
	out := submitReply{Status: res.Status, Applied: res.Applied}
	if res.Status == session.StatusApplied {
		out.OperationID = res.OperationID
	}
	return out
}

func toReplies(results []session.SubmitResult) []submitReply {
	out := make([]submitReply, 0, len(results))
	for _, res := range results {
		out = append(out, toReply(res))
	}
	return out
}

func errorResponse(id any, err error) Response {
	var pe paramsError
	switch {
	case errors.As(err, &pe):
		return NewError(id, ErrInvalidParams, err.Error(), nil)
	case errors.Is(err, errMethodNotFound):
		return NewError(id, ErrMethodNotFound, err.Error(), nil)
	case errors.Is(err, errRateLimited):
		return NewError(id, ErrApplication, err.Error(), "RATE_LIMITED")
	}
	if apiErr := mcp.MapError(err); apiErr != nil {
		return NewError(id, ErrApplication, apiErr.Message, apiErr.Code)
	}
	return NewError(id, ErrInternal, err.Error(), nil)
}
