package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, ttl time.Duration) (*presence.Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tracker := presence.NewTracker(rdb, ttl, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tracker.Close(ctx)
	})
	return tracker, mr
}

func TestTracker_MembersAndExpiry(t *testing.T) {
	tracker, mr := newTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.AddMember(ctx, "s1", "u2", "Bea"))
	require.NoError(t, tracker.AddMember(ctx, "s1", "u1", "Olive"))

	members, err := tracker.Members(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []presence.Member{
		{UserID: "u1", Name: "Olive"},
		{UserID: "u2", Name: "Bea"},
	}, members)

	mr.FastForward(30 * time.Second)
	require.NoError(t, tracker.Touch(ctx, "s1", "u2"))
	mr.FastForward(45 * time.Second)

	members, err = tracker.Members(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []presence.Member{{UserID: "u2", Name: "Bea"}}, members)
}

func TestTracker_RemoveMember(t *testing.T) {
	tracker, _ := newTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.AddMember(ctx, "s1", "u1", "Olive"))
	require.NoError(t, tracker.SetCursor(ctx, "s1", "u1", operation.Point{X: 1, Y: 2}))
	require.NoError(t, tracker.RemoveMember(ctx, "s1", "u1"))

	members, err := tracker.Members(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, ok, err := tracker.Cursor(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTracker_CursorExpires(t *testing.T) {
	tracker, mr := newTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.SetCursor(ctx, "s1", "u1", operation.Point{X: 12.5, Y: 40}))
	pos, ok, err := tracker.Cursor(ctx, "s1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, operation.Point{X: 12.5, Y: 40}, pos)

	mr.FastForward(2 * time.Minute)
	_, ok, err = tracker.Cursor(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTracker_Clear(t *testing.T) {
	tracker, mr := newTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.AddMember(ctx, "s1", "u1", "Olive"))
	require.NoError(t, tracker.SetCursor(ctx, "s1", "u1", operation.Point{X: 1, Y: 1}))
	require.NoError(t, tracker.AddMember(ctx, "s2", "u9", "Zed"))
	require.NoError(t, tracker.Clear(ctx, "s1"))

	assert.False(t, mr.Exists("presence:room:s1"))
	assert.False(t, mr.Exists("presence:cursor:s1:u1"))
	assert.True(t, mr.Exists("presence:room:s2"))
}

func TestTracker_ObservesEngine(t *testing.T) {
	tracker, _ := newTracker(t, time.Minute)
	engine := session.NewEngine(nil, session.Options{Observers: []session.Subscriber{tracker}}, nil)
	ctx := context.Background()

	sessionID, err := engine.CreateSession(ctx, "Studio", "owner", "Olive", nil)
	require.NoError(t, err)
	require.NoError(t, engine.JoinSession(ctx, sessionID, "u2", "Bea"))
	_, err = engine.UpdateCursorPosition(ctx, "u2", 30, 40)
	require.NoError(t, err)

	waitMembers := func(want []presence.Member) {
		t.Helper()
		require.Eventually(t, func() bool {
			got, err := tracker.Members(ctx, sessionID)
			return err == nil && assert.ObjectsAreEqual(want, got)
		}, 2*time.Second, 10*time.Millisecond)
	}

	waitMembers([]presence.Member{
		{UserID: "owner", Name: "Olive"},
		{UserID: "u2", Name: "Bea"},
	})
	require.Eventually(t, func() bool {
		pos, ok, err := tracker.Cursor(ctx, sessionID, "u2")
		return err == nil && ok && pos == operation.Point{X: 30, Y: 40}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.LeaveSession(ctx, "u2"))
	waitMembers([]presence.Member{{UserID: "owner", Name: "Olive"}})

	require.NoError(t, engine.EndSession(ctx, sessionID, "owner"))
	waitMembers([]presence.Member{})
}

func TestTracker_NotifyDoesNotWaitForRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	tracker := presence.NewTracker(rdb, time.Minute, nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, tracker.Notify(ctx, session.Event{
			Type:      session.EventUserJoined,
			SessionID: "s1",
			UserID:    "u1",
			UserName:  "Olive",
		}))
	}
	assert.Less(t, time.Since(start), time.Second)

	closeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_ = tracker.Close(closeCtx)
	require.ErrorIs(t, tracker.Notify(ctx, session.Event{Type: session.EventUserLeft, SessionID: "s1"}), presence.ErrClosed)
}
