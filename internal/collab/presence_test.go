// ABOUTME: Tests for join, leave, disconnect and cursor sharing
// ABOUTME: Covers snapshot delivery, join notifications, teardown and concurrent joins

package collab

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_ReplyReceivesSnapshot(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	rt.reset()

	var replies []*Event
	_, err := m.Join(ctx, JoinRequest{
		ContainerID: "c1",
		FilePath:    "/a.js",
		UserID:      "bob",
		Reply:       func(ev *Event) { replies = append(replies, ev) },
	})
	require.NoError(t, err)

	require.Len(t, replies, 1)
	assert.Equal(t, EventCollaborationState, replies[0].Type)
	assert.Equal(t, []string{"alice", "bob"}, replies[0].Users)
	assert.Empty(t, rt.of("bob", EventCollaborationState), "snapshot goes only to the reply hook")
	assert.Len(t, rt.of("alice", EventUserJoined), 1)
}

func TestJoin_TwoUsersShareOneSession(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	a, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	require.NoError(t, err)
	b, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "bob"})
	require.NoError(t, err)

	assert.Equal(t, a.SessionID, b.SessionID)
	assert.Equal(t, 1, m.SessionCount())
	assert.Equal(t, []string{"alice", "bob"}, b.Users)
	assert.Equal(t, int64(0), b.Version)

	for _, user := range []string{"alice", "bob"} {
		states := rt.of(user, EventCollaborationState)
		require.Len(t, states, 1, user)
		assert.Equal(t, int64(0), *states[0].Version)
		assert.Equal(t, "", *states[0].Content)
		assert.False(t, *states[0].Locked)
	}

	// alice hears about bob; bob gets no notice of his own join
	joined := rt.of("alice", EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "bob", joined[0].UserID)
	assert.Equal(t, 2, *joined[0].UserCount)
	assert.Empty(t, rt.of("bob", EventUserJoined))
}

func TestJoin_RejoinResendsSnapshotWithoutNotification(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	_, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	require.NoError(t, err)
	_, err = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "bob"})
	require.NoError(t, err)
	rt.reset()

	snap, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "bob"})
	require.NoError(t, err)

	assert.Len(t, snap.Users, 2)
	assert.Len(t, rt.of("bob", EventCollaborationState), 1)
	assert.Empty(t, rt.of("alice", EventUserJoined))
}

func TestJoin_ValidatesRequest(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.Join(t.Context(), JoinRequest{FilePath: "/a.js", UserID: "alice"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "containerId", verr.Field)
	assert.Equal(t, 0, m.SessionCount())
}

func TestLeave_NotifiesRemainingParticipants(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	snap, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "bob"})

	require.NoError(t, m.Leave(ctx, snap.SessionID, "alice"))

	left := rt.of("bob", EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].UserID)
	assert.Empty(t, rt.of("alice", EventUserLeft))

	info, err := m.Session(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, info.Participants)
}

func TestLeave_NonParticipantIsNoop(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	snap, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	rt.reset()

	require.NoError(t, m.Leave(ctx, snap.SessionID, "mallory"))
	assert.Equal(t, 0, rt.count("alice"))
	assert.Equal(t, 1, m.SessionCount())
}

func TestLeave_UnknownSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	err := m.Leave(t.Context(), "nope", "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLeave_LastParticipantDestroysSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	snap, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	_, err := m.ApplyUpdate(ctx, UpdateRequest{SessionID: snap.SessionID, UserID: "alice", Content: "Y", BaseVersion: 0})
	require.NoError(t, err)

	require.NoError(t, m.Leave(ctx, snap.SessionID, "alice"))
	assert.Equal(t, 0, m.SessionCount())

	_, err = m.Session(snap.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	fresh, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "carol"})
	require.NoError(t, err)
	assert.NotEqual(t, snap.SessionID, fresh.SessionID)
	assert.Equal(t, int64(0), fresh.Version)
	assert.Empty(t, fresh.Content)
}

func TestDisconnect_LeavesEverySession(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	a, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	b, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/b.js", UserID: "alice"})
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "bob"})
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c2", FilePath: "/c.js", UserID: "bob"})

	left := m.Disconnect(ctx, "alice")
	assert.ElementsMatch(t, []string{a.SessionID, b.SessionID}, left)

	// /b.js had only alice and is gone; /a.js survives with bob
	assert.Equal(t, 2, m.SessionCount())
	info, err := m.Session(a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, info.Participants)
	assert.Len(t, rt.of("bob", EventUserLeft), 1)

	assert.Empty(t, m.Disconnect(ctx, "alice"))
}

func TestUpdateCursor_SharedWithOthersOnly(t *testing.T) {
	m, rt := newTestManager(t, Options{})
	ctx := t.Context()

	snap, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})
	_, _ = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "bob"})

	require.NoError(t, m.UpdateCursor(ctx, snap.SessionID, "alice", Position{Line: 3, Column: 7}))
	require.NoError(t, m.UpdateCursor(ctx, snap.SessionID, "alice", Position{Line: 4, Column: 1}))

	moved := rt.of("bob", EventCursorMoved)
	require.Len(t, moved, 2)
	assert.Equal(t, Position{Line: 4, Column: 1}, *moved[1].Position)
	assert.Empty(t, rt.of("alice", EventCursorMoved))

	// a later joiner sees the last-known cursor in the snapshot
	carol, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "carol"})
	require.NoError(t, err)
	assert.Equal(t, Position{Line: 4, Column: 1}, carol.Cursors["alice"])
}

func TestUpdateCursor_RequiresParticipant(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	snap, _ := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: "alice"})

	err := m.UpdateCursor(ctx, snap.SessionID, "mallory", Position{Line: 1})
	assert.ErrorIs(t, err, ErrNotAParticipant)

	err = m.UpdateCursor(ctx, snap.SessionID, "alice", Position{Line: -1})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestJoin_ConcurrentUsersShareOneSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/a.js", UserID: fmt.Sprintf("user-%d", i)})
			if err == nil {
				ids[i] = snap.SessionID
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, m.SessionCount())
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	info, err := m.Session(ids[0])
	require.NoError(t, err)
	assert.Len(t, info.Participants, n)
}

func TestJoin_RacingWithLastLeaveNeverJoinsDeadSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := t.Context()

	for round := 0; round < 100; round++ {
		snap, err := m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/race.js", UserID: "alice"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var bob *Snapshot
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Leave(ctx, snap.SessionID, "alice")
		}()
		go func() {
			defer wg.Done()
			bob, _ = m.Join(ctx, JoinRequest{ContainerID: "c1", FilePath: "/race.js", UserID: "bob"})
		}()
		wg.Wait()

		require.NotNil(t, bob)
		info, err := m.Session(bob.SessionID)
		require.NoError(t, err, "bob must be in a live session")
		assert.Contains(t, info.Participants, "bob")

		m.Disconnect(ctx, "bob")
		m.Disconnect(ctx, "alice")
		require.Equal(t, 0, m.SessionCount())
	}
}
