// ABOUTME: Tests for the dedupe cache used to drop retried client commands.
// ABOUTME: Validates TTL expiry, stored replies, capacity eviction and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_ClaimNewThenDuplicate(t *testing.T) {
	c := New[string](time.Minute, 10)
	defer c.Close()

	_, dup := c.Claim("k")
	assert.False(t, dup)

	_, dup = c.Claim("k")
	assert.True(t, dup)
}

func TestCache_StoredValueReplayed(t *testing.T) {
	c := New[string](time.Minute, 10)
	defer c.Close()

	c.Claim("k")
	c.Store("k", "ack-v3")

	v, dup := c.Claim("k")
	assert.True(t, dup)
	assert.Equal(t, "ack-v3", v)
}

func TestCache_Expiry(t *testing.T) {
	c := New[string](50*time.Millisecond, 10)
	defer c.Close()

	c.Claim("k")
	time.Sleep(80 * time.Millisecond)

	_, dup := c.Claim("k")
	assert.False(t, dup, "expired key is new again")
}

func TestCache_ExpiredKeysSwept(t *testing.T) {
	c := New[string](50*time.Millisecond, 10)
	defer c.Close()

	c.Claim("old-1")
	c.Claim("old-2")

	assert.Eventually(t, func() bool { return c.Len() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestCache_Forget(t *testing.T) {
	c := New[string](time.Minute, 10)
	defer c.Close()

	c.Claim("k")
	c.Forget("k")
	_, dup := c.Claim("k")
	assert.False(t, dup)
	c.Forget("never-seen")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New[string](time.Minute, 3)
	defer c.Close()

	c.Claim("a")
	c.Claim("b")
	c.Claim("c")
	c.Claim("d")

	assert.Equal(t, 3, c.Len())
	_, dup := c.Claim("a")
	assert.False(t, dup, "oldest key was evicted")
}

func TestCache_StoreRefreshesRecency(t *testing.T) {
	c := New[string](time.Minute, 2)
	defer c.Close()

	c.Claim("a")
	c.Claim("b")
	c.Store("a", "x") // a is now newest
	c.Claim("c")      // evicts b

	v, dup := c.Claim("a")
	assert.True(t, dup)
	assert.Equal(t, "x", v)
	_, dup = c.Claim("b")
	assert.False(t, dup)
}

func TestKey_SeparatesUsers(t *testing.T) {
	assert.NotEqual(t, Key("alice", "1"), Key("bob", "1"))
	assert.NotEqual(t, Key("a", "b1"), Key("ab", "1"))
}

func TestCache_ConcurrentClaimSingleWinner(t *testing.T) {
	c := New[struct{}](time.Minute, 1000)
	defer c.Close()

	for i := range 20 {
		key := fmt.Sprintf("cmd-%d", i)
		var winners atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, dup := c.Claim(key); !dup {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load(), key)
	}
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New[int](time.Minute, 1)
	c.Claim("k")
	c.Close()
	c.Close()
	assert.Equal(t, 0, c.Len())
}
