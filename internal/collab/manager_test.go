// ABOUTME: Tests for Manager-level fan-out, system broadcasts, idle tracking and observers
// ABOUTME: Uses a controllable clock for idle eviction

package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_ExcludesGivenUser(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	sid := joinAliceAndBob(t, m)
	_, _ = m.Join(t.Context(), JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "carol"})
	rt.reset()

	ev := &Event{Type: EventSystemBroadcast, Message: "hi"}
	require.NoError(t, m.Broadcast(sid, ev, "bob"))

	assert.Len(t, rt.of("alice", EventSystemBroadcast), 1)
	assert.Len(t, rt.of("carol", EventSystemBroadcast), 1)
	assert.Empty(t, rt.of("bob", EventSystemBroadcast))

	assert.ErrorIs(t, m.Broadcast("missing", ev, ""), ErrSessionNotFound)
}

func TestSystemBroadcast_ReachesEachUserOnce(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()
	_ = joinAliceAndBob(t, m)
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/b.js", UserID: "alice"})
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c2", FilePath: "/c.js", UserID: "carol"})
	require.Equal(t, 3, m.SessionCount())
	rt.reset()

	n, err := m.SystemBroadcast(ctx, SystemMessage{Message: "maintenance in 5m", Level: "warning"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, user := range []string{"alice", "bob", "carol"} {
		got := rt.of(user, EventSystemBroadcast)
		require.Len(t, got, 1, user)
		assert.Equal(t, "maintenance in 5m", got[0].Message)
		assert.Equal(t, "warning", got[0].Level)
	}
	assert.Equal(t, 3, m.SessionCount(), "system broadcasts leave sessions untouched")
}

func TestSystemBroadcast_SingleSession(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()
	sid := joinAliceAndBob(t, m)
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c2", FilePath: "/c.js", UserID: "carol"})
	rt.reset()

	n, err := m.SystemBroadcast(ctx, SystemMessage{Message: "heads up", SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, rt.of("carol", EventSystemBroadcast))
	assert.Equal(t, "info", rt.of("alice", EventSystemBroadcast)[0].Level)

	_, err = m.SystemBroadcast(ctx, SystemMessage{})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestIdle_TrackingAndEviction(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
	}

	quiet, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/quiet.js", UserID: "alice"})
	busy, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/busy.js", UserID: "bob"})

	advance(10 * time.Minute)
	require.NoError(t, m.UpdateCursor(ctx, busy.SessionID, "bob", Position{Line: 1}))

	idle, err := m.IdleFor(quiet.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, idle)
	idle, _ = m.IdleFor(busy.SessionID)
	assert.Equal(t, time.Duration(0), idle)

	evicted := m.EvictIdle(ctx, 5*time.Minute)
	assert.Equal(t, []string{quiet.SessionID}, evicted)
	assert.Len(t, rt.of("alice", EventSessionExpired), 1)
	assert.Empty(t, rt.of("bob", EventSessionExpired))

	_, err = m.IdleFor(quiet.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, m.SessionCount())
}

func TestObservers_SeeCommittedEvents(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	var mu sync.Mutex
	var seen []EventType
	m.AddObserver(ObserverFunc(func(ev *Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}))

	sid := joinAliceAndBob(t, m)
	_, _ = m.ApplyUpdate(ctx, UpdateRequest{SessionID: sid, UserID: "alice", Content: "X", BaseVersion: 5})
	_ = m.AcquireLock(ctx, sid, "alice")
	_ = m.AcquireLock(ctx, sid, "bob")
	_ = m.Leave(ctx, sid, "alice")
	_ = m.Leave(ctx, sid, "bob")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventUserJoined, // alice
		EventUserJoined, // bob
		EventFileUpdated,
		EventConflictDetected,
		EventFileLockChanged,
		EventLockFailed,
		EventFileLockChanged, // implicit release on leave
		EventUserLeft,
		EventUserLeft,
	}, seen)
}
