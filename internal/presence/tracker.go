// Package presence tracks who is online in a session, and where their
// cursor is, in Redis.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
)

// DefaultTTL is how long a member stays online without activity.
const DefaultTTL = 2 * time.Minute

// queueSize bounds the events waiting for Redis.
const queueSize = 1024

// ErrQueueFull is returned by Notify when the update queue has no room.
var ErrQueueFull = errors.New("presence queue full")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("presence tracker closed")

// Member is an online participant.
type Member struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Tracker is an engine observer that mirrors membership and cursor
// positions into Redis with a TTL. Events are applied in order by one
// background worker; Notify never waits on Redis.
type Tracker struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	queue chan session.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewTracker creates a tracker and starts its worker. A zero ttl means
// DefaultTTL.
func NewTracker(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tracker{
		rdb:     rdb,
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  logger,
		queue:   make(chan session.Event, queueSize),
	}
	t.wg.Add(1)
	go t.workerLoop()
	return t
}

// Notify queues a session event for the presence keys.
func (t *Tracker) Notify(_ context.Context, ev session.Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}

	select {
	case t.queue <- ev:
		return nil
	default:
		t.logger.Warn("presence queue full, dropping event", "session_id", ev.SessionID, "event", ev.Type)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued events are applied
// or ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) workerLoop() {
	defer t.wg.Done()
	for ev := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		if err := t.apply(ctx, ev); err != nil {
			t.logger.Warn("presence update failed",
				"session_id", ev.SessionID,
				"user_id", ev.UserID,
				"event", ev.Type,
				"error", err)
		}
		cancel()
	}
}

func (t *Tracker) apply(ctx context.Context, ev session.Event) error {
	switch ev.Type {
	case session.EventSessionCreated, session.EventUserJoined:
		return t.AddMember(ctx, ev.SessionID, ev.UserID, ev.UserName)
	case session.EventUserLeft:
		return t.RemoveMember(ctx, ev.SessionID, ev.UserID)
	case session.EventSessionEnded:
		return t.Clear(ctx, ev.SessionID)
	case session.EventOperationApplied:
		if ev.Operation == nil {
			return nil
		}
		if move, ok := ev.Operation.Payload.(operation.CursorMove); ok {
			if err := t.SetCursor(ctx, ev.SessionID, ev.UserID, move.Position); err != nil {
				return err
			}
		}
		return t.Touch(ctx, ev.SessionID, ev.UserID)
	}
	return nil
}

// AddMember marks a user online.
func (t *Tracker) AddMember(ctx context.Context, sessionID, userID, name string) error {
	if userID == "" {
		return nil
	}
	pipe := t.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(sessionID), userID)
	pipe.Set(ctx, memberKey(sessionID, userID), "1", t.ttl)
	pipe.HSet(ctx, namesKey(sessionID), userID, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

// Touch extends a member's heartbeat.
func (t *Tracker) Touch(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		return nil
	}
	if err := t.rdb.Set(ctx, memberKey(sessionID, userID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("refreshing member: %w", err)
	}
	return nil
}

// RemoveMember marks a user offline and forgets its cursor.
func (t *Tracker) RemoveMember(ctx context.Context, sessionID, userID string) error {
	pipe := t.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(sessionID), userID)
	pipe.Del(ctx, memberKey(sessionID, userID), cursorKey(sessionID, userID))
	pipe.HDel(ctx, namesKey(sessionID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	return nil
}

// Clear removes every presence key of a session.
func (t *Tracker) Clear(ctx context.Context, sessionID string) error {
	userIDs, err := t.rdb.SMembers(ctx, roomKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}
	keys := []string{roomKey(sessionID), namesKey(sessionID)}
	for _, userID := range userIDs {
		keys = append(keys, memberKey(sessionID, userID), cursorKey(sessionID, userID))
	}
	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// SetCursor stores a member's cursor position.
func (t *Tracker) SetCursor(ctx context.Context, sessionID, userID string, pos operation.Point) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	if err := t.rdb.Set(ctx, cursorKey(sessionID, userID), b, t.ttl).Err(); err != nil {
		return fmt.Errorf("setting cursor: %w", err)
	}
	return nil
}

// Cursor returns a member's last known cursor position. ok is false when
// none is stored or it expired.
func (t *Tracker) Cursor(ctx context.Context, sessionID, userID string) (pos operation.Point, ok bool, err error) {
	b, err := t.rdb.Get(ctx, cursorKey(sessionID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return operation.Point{}, false, nil
	}
	if err != nil {
		return operation.Point{}, false, fmt.Errorf("getting cursor: %w", err)
	}
	if err := json.Unmarshal(b, &pos); err != nil {
		return operation.Point{}, false, fmt.Errorf("decoding cursor: %w", err)
	}
	return pos, true, nil
}

// Members returns the members of a session whose heartbeat is alive,
// ordered by user id.
func (t *Tracker) Members(ctx context.Context, sessionID string) ([]Member, error) {
	userIDs, err := t.rdb.SMembers(ctx, roomKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	if len(userIDs) == 0 {
		return []Member{}, nil
	}
	sort.Strings(userIDs)

	pipe := t.rdb.Pipeline()
	exists := make([]*redis.IntCmd, 0, len(userIDs))
	for _, userID := range userIDs {
		exists = append(exists, pipe.Exists(ctx, memberKey(sessionID, userID)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("checking heartbeats: %w", err)
	}

	alive := make([]string, 0, len(userIDs))
	for i, cmd := range exists {
		if cmd.Val() == 1 {
			alive = append(alive, userIDs[i])
		}
	}
	if len(alive) == 0 {
		return []Member{}, nil
	}

	names, err := t.rdb.HMGet(ctx, namesKey(sessionID), alive...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading names: %w", err)
	}
	members := make([]Member, 0, len(alive))
	for i, v := range names {
		name, _ := v.(string)
		members = append(members, Member{UserID: alive[i], Name: name})
	}
	return members, nil
}
