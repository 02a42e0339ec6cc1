package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/atelier/internal/domain/conflict"
	"github.com/rpggio/atelier/internal/domain/operation"
)

// DefaultRecentOperations is the number of log entries included in a state snapshot.
const DefaultRecentOperations = 10

// Options configures an Engine.
type Options struct {
	Clock            Clock
	NewID            func() string
	Defaults         *Settings
	RecentOperations int
	Observers        []Subscriber
}

// Engine owns every live session, the user to session index and the
// broadcast registry. Each session is guarded by its own lock; the engine
// lock only protects the two tables. A session lock may be held while taking
// the engine lock, never the reverse. Two session locks are taken in session
// id order.
type Engine struct {
	resolver  *conflict.Resolver
	clock     Clock
	newID     func() string
	defaults  Settings
	recentOps int
	logger    *slog.Logger

	mu           sync.RWMutex
	sessions     map[string]*liveSession
	userSessions map[string]string

	obsMu     sync.RWMutex
	observers []Subscriber
}

type subscription struct {
	id  string
	sub Subscriber
}

type liveSession struct {
	mu sync.Mutex

	id           string
	name         string
	ownerID      string
	createdAt    time.Time
	lastActivity time.Time
	settings     Settings
	participants map[string]*Participant
	joinOrder    []string
	shared       SharedState
	log          []*operation.Operation
	pending      []*operation.Operation
	recent       []*operation.Operation
	tombstones   map[string]*operation.Operation
	subscribers  []subscription
	active       bool

	lastStamp     float64
	revision      uint64
	savedRevision uint64
}

// NewEngine creates a collaboration engine.
func NewEngine(resolver *conflict.Resolver, opts Options, logger *slog.Logger) *Engine {
	if resolver == nil {
		resolver = conflict.New(conflict.Options{Logger: logger})
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	defaults := DefaultSettings()
	if opts.Defaults != nil {
		defaults = opts.Defaults.withDefaults(defaults)
	}
	if opts.RecentOperations <= 0 {
		opts.RecentOperations = DefaultRecentOperations
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		resolver:     resolver,
		clock:        opts.Clock,
		newID:        opts.NewID,
		defaults:     defaults,
		recentOps:    opts.RecentOperations,
		logger:       logger,
		sessions:     map[string]*liveSession{},
		userSessions: map[string]string{},
		observers:    append([]Subscriber(nil), opts.Observers...),
	}
}

// Observe registers an engine-wide observer that receives the events of
// every session, including creation and end.
func (e *Engine) Observe(sub Subscriber) {
	if sub == nil {
		return
	}
	e.obsMu.Lock()
	e.observers = append(e.observers, sub)
	e.obsMu.Unlock()
}

// CreateSession creates a session with the owner as its only active participant.
// Nil settings use the engine defaults; zero fields are filled from them.
func (e *Engine) CreateSession(ctx context.Context, name, ownerID, ownerName string, settings *Settings) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}

	if _, ok := e.membership(ownerID); ok {
		if err := e.LeaveSession(ctx, ownerID); err != nil {
			return "", fmt.Errorf("leaving previous session: %w", err)
		}
	}

	resolved := e.defaults.clone()
	if settings != nil {
		resolved = settings.withDefaults(e.defaults)
	}

	now := e.clock()
	s := &liveSession{
		id:           e.newID(),
		name:         name,
		ownerID:      ownerID,
		createdAt:    now,
		lastActivity: now,
		settings:     resolved,
		participants: map[string]*Participant{},
		shared:       newSharedState(),
		log:          []*operation.Operation{},
		tombstones:   map[string]*operation.Operation{},
		active:       true,
		revision:     1,
	}
	s.addParticipant(ownerID, ownerName, RoleOwner, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.mu.Lock()
	e.sessions[s.id] = s
	e.userSessions[ownerID] = s.id
	e.mu.Unlock()

	e.logger.Info("session created", "session_id", s.id, "user_id", ownerID, "name", name)
	e.broadcast(ctx, s, Event{
		Type:      EventSessionCreated,
		SessionID: s.id,
		UserID:    ownerID,
		UserName:  ownerName,
		Timestamp: now,
	})
	return s.id, nil
}

// JoinSession adds a user to a session as a collaborator. A user that left
// earlier is reactivated with the role it had. A user mapped to another
// session leaves it, but only once the join is known to succeed; a failed
// join changes nothing.
func (e *Engine) JoinSession(ctx context.Context, sessionID, userID, userName string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	}

	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	for {
		done, err := e.tryJoin(ctx, s, userID, userName)
		if done || err != nil {
			return err
		}
	}
}

// tryJoin admits userID to s with both its current session and s locked.
// It reports false when the membership moved before the mapping could be
// claimed, and the caller retries.
func (e *Engine) tryJoin(ctx context.Context, s *liveSession, userID, userName string) (bool, error) {
	current, mapped := e.membership(userID)
	var prev *liveSession
	if mapped && current != s.id {
		prev, _ = e.lookup(current)
	}

	unlock := lockSessions(s, prev)
	defer unlock()

	if !s.active {
		return true, ErrSessionInactive
	}

	existing := s.participants[userID]
	alreadyActive := existing != nil && existing.Active
	if alreadyActive && mapped && current == s.id {
		return true, nil
	}
	if !alreadyActive && s.activeCount() >= s.settings.MaxParticipants {
		return true, ErrSessionFull
	}

	e.mu.Lock()
	if got, ok := e.userSessions[userID]; ok != mapped || got != current {
		e.mu.Unlock()
		return false, nil
	}
	e.userSessions[userID] = s.id
	e.mu.Unlock()

	if prev != nil {
		e.markLeft(ctx, prev, userID)
	}

	now := e.clock()
	if existing != nil {
		existing.Active = true
		existing.JoinedAt = now
		if userName != "" {
			existing.Name = userName
		}
		userName = existing.Name
	} else {
		s.addParticipant(userID, userName, RoleCollaborator, now)
	}

	s.touch(now)
	e.logger.Info("user joined", "session_id", s.id, "user_id", userID, "user_name", userName)
	e.broadcast(ctx, s, Event{
		Type:      EventUserJoined,
		SessionID: s.id,
		UserID:    userID,
		UserName:  userName,
		Timestamp: now,
	})
	return true, nil
}

// LeaveSession marks the user inactive in its current session and removes
// its membership.
func (e *Engine) LeaveSession(ctx context.Context, userID string) error {
	sessionID, ok := e.membership(userID)
	if !ok {
		return ErrNotInSession
	}
	s, err := e.lookup(sessionID)
	if err != nil {
		return ErrNotInSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e.mu.Lock()
	if e.userSessions[userID] != sessionID {
		e.mu.Unlock()
		return ErrNotInSession
	}
	delete(e.userSessions, userID)
	e.mu.Unlock()

	e.markLeft(ctx, s, userID)
	return nil
}

// markLeft deactivates the participant and announces it. Callers hold s.mu
// and have already moved the membership entry.
func (e *Engine) markLeft(ctx context.Context, s *liveSession, userID string) {
	p := s.participants[userID]
	if p == nil || !p.Active {
		return
	}
	now := e.clock()
	p.Active = false
	s.touch(now)
	e.broadcast(ctx, s, Event{
		Type:      EventUserLeft,
		SessionID: s.id,
		UserID:    userID,
		UserName:  p.Name,
		Timestamp: now,
	})
	e.logger.Info("user left", "session_id", s.id, "user_id", userID)
}

// EndSession ends a session on behalf of a participant holding the admin
// permission. The log and metadata stay available for export.
func (e *Engine) EndSession(ctx context.Context, sessionID, actorID string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSessionInactive
	}
	actor := s.participants[actorID]
	if actor == nil || !actor.Active {
		return ErrNotParticipant
	}
	if !s.settings.Allows(actor.Role, PermissionAdmin) {
		return ErrPermissionDenied
	}

	now := e.clock()
	e.broadcast(ctx, s, Event{
		Type:      EventSessionEnded,
		SessionID: sessionID,
		UserID:    actorID,
		UserName:  actor.Name,
		Timestamp: now,
	})
	e.deactivate(s)
	s.touch(now)

	e.logger.Info("session ended", "session_id", sessionID, "user_id", actorID)
	return nil
}

// CleanupInactiveSessions deactivates every active session idle for longer
// than maxAge and returns how many were swept.
func (e *Engine) CleanupInactiveSessions(ctx context.Context, maxAge time.Duration) int {
	cutoff := e.clock().Add(-maxAge)
	swept := 0

	for _, s := range e.snapshot() {
		s.mu.Lock()
		if s.active && s.lastActivity.Before(cutoff) {
			e.broadcast(ctx, s, Event{
				Type:      EventSessionEnded,
				SessionID: s.id,
				Timestamp: e.clock(),
			})
			e.deactivate(s)
			swept++
			e.logger.Info("session swept", "session_id", s.id, "last_activity", s.lastActivity)
		}
		s.mu.Unlock()
	}

	return swept
}

// SessionOf returns the id of the user's current session.
func (e *Engine) SessionOf(userID string) (string, bool) {
	return e.membership(userID)
}

// Sessions lists metadata of every session the engine holds.
func (e *Engine) Sessions() []Info {
	sessions := e.snapshot()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	return out
}

// deactivate releases membership entries, the pending queue and the
// subscriber registrations. Callers hold s.mu.
func (e *Engine) deactivate(s *liveSession) {
	s.active = false
	s.pending = nil
	s.subscribers = nil
	s.revision++

	e.mu.Lock()
	for userID, sessionID := range e.userSessions {
		if sessionID == s.id {
			delete(e.userSessions, userID)
		}
	}
	e.mu.Unlock()
}

// lockSessions locks a and, when non-nil, b in id order and returns the
// matching unlock.
func lockSessions(a, b *liveSession) func() {
	if b == nil || b == a {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

func (e *Engine) lookup(sessionID string) (*liveSession, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) membership(userID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sessionID, ok := e.userSessions[userID]
	return sessionID, ok
}

func (e *Engine) snapshot() []*liveSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*liveSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (s *liveSession) addParticipant(userID, name string, role Role, now time.Time) {
	s.participants[userID] = &Participant{
		UserID:   userID,
		Name:     name,
		Role:     role,
		JoinedAt: now,
		Active:   true,
	}
	s.joinOrder = append(s.joinOrder, userID)
}

func (s *liveSession) activeCount() int {
	n := 0
	for _, p := range s.participants {
		if p.Active {
			n++
		}
	}
	return n
}

func (s *liveSession) touch(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.revision++
}

// stamp returns a timestamp in seconds that is strictly greater than every
// timestamp previously issued for this session.
func (s *liveSession) stamp(now time.Time) float64 {
	ts := float64(now.UnixNano()) / 1e9
	if ts <= s.lastStamp {
		ts = math.Nextafter(s.lastStamp, math.Inf(1))
	}
	s.lastStamp = ts
	return ts
}

func (s *liveSession) info() Info {
	return Info{
		ID:           s.id,
		Name:         s.name,
		OwnerID:      s.ownerID,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Active:       s.active,
	}
}

func (s *liveSession) participantList() []Participant {
	out := make([]Participant, 0, len(s.joinOrder))
	for _, userID := range s.joinOrder {
		out = append(out, s.participants[userID].clone())
	}
	return out
}
