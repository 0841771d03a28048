// ABOUTME: Tests for per-user connection fan-out
// ABOUTME: Covers multi-connection delivery, last-connection tracking and slow consumers

package hub

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/disco-collab/internal/collab"
)

func TestFanout_DeliversToEveryConnectionOfUser(t *testing.T) {
	f := NewFanout(nil)
	defer f.Close()

	_, tab1, _ := f.Register("alice")
	_, tab2, _ := f.Register("alice")
	_, other, _ := f.Register("bob")

	f.SendTo("alice", &collab.Event{Type: collab.EventUserJoined})

	assert.Equal(t, collab.EventUserJoined, (<-tab1).Type)
	assert.Equal(t, collab.EventUserJoined, (<-tab2).Type)
	assert.Empty(t, other)
	assert.Equal(t, 3, f.ConnectionCount())
}

func TestFanout_SendToConnTargetsOneConnection(t *testing.T) {
	f := NewFanout(nil)
	defer f.Close()

	id1, tab1, _ := f.Register("alice")
	_, tab2, _ := f.Register("alice")

	require.True(t, f.SendToConn("alice", id1, &collab.Event{Type: collab.EventPong}))
	assert.Len(t, tab1, 1)
	assert.Empty(t, tab2)

	assert.False(t, f.SendToConn("alice", "nope", &collab.Event{Type: collab.EventPong}))
}

func TestFanout_UnregisterReportsLastConnection(t *testing.T) {
	f := NewFanout(nil)
	defer f.Close()

	id1, ch1, _ := f.Register("alice")
	id2, _, _ := f.Register("alice")

	assert.False(t, f.Unregister("alice", id1))
	_, open := <-ch1
	assert.False(t, open, "channel closed on unregister")
	assert.True(t, f.Connected("alice"))

	assert.True(t, f.Unregister("alice", id2))
	assert.False(t, f.Connected("alice"))

	assert.False(t, f.Unregister("alice", id2), "double unregister is a no-op")
	f.SendTo("alice", &collab.Event{Type: collab.EventPong})
}

func TestFanout_SlowConsumerOverflow(t *testing.T) {
	f := NewFanout(nil)
	defer f.Close()

	var drops atomic.Int32
	f.OnDrop(func(string, *collab.Event) { drops.Add(1) })

	_, events, overflow := f.Register("alice")
	for range connBufferSize + 3 {
		f.SendTo("alice", &collab.Event{Type: collab.EventCursorMoved})
	}

	assert.Len(t, events, connBufferSize)
	assert.Equal(t, int32(3), drops.Load())
	select {
	case <-overflow:
	default:
		t.Fatal("overflow not signalled")
	}
}

func TestFanout_ConcurrentSendAndUnregister(t *testing.T) {
	f := NewFanout(nil)
	defer f.Close()

	var wg sync.WaitGroup
	for range 50 {
		id, ch, _ := f.Register("alice")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 20 {
				f.SendTo("alice", &collab.Event{Type: collab.EventCursorMoved})
			}
		}()
		go func() {
			defer wg.Done()
			f.Unregister("alice", id)
			for range ch {
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, f.ConnectionCount())
}

func TestFanout_CloseClosesChannels(t *testing.T) {
	f := NewFanout(nil)
	_, ch, _ := f.Register("alice")
	f.Close()
	_, open := <-ch
	assert.False(t, open)
	f.Close()
}

func TestFanout_ReleaseRunsTeardownOnlyForLastConnection(t *testing.T) {
	f := NewFanout(nil)
	defer f.Close()

	id1, _, _ := f.Register("alice")
	id2, _, _ := f.Register("alice")

	calls := 0
	assert.False(t, f.Release("alice", id1, func() { calls++ }))
	assert.Equal(t, 0, calls)

	assert.True(t, f.Release("alice", id2, func() { calls++ }))
	assert.Equal(t, 1, calls)
	assert.False(t, f.Connected("alice"))

	assert.False(t, f.Release("alice", id2, func() { calls++ }), "releasing twice is a no-op")
	assert.Equal(t, 1, calls)
	assert.Empty(t, f.gates, "gates are dropped once unused")
}
