// ABOUTME: Tests for the expiring dedupe cache
// ABOUTME: Uses an injected clock for expiry and covers eviction, sweeping and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(ttl, maxSize, time.Hour, clock.Now)
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_MarkAndCheck(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	assert.False(t, c.Check("wamid.1"))
	c.Mark("wamid.1")
	assert.True(t, c.Check("wamid.1"))

	clock.Advance(time.Minute)
	assert.False(t, c.Check("wamid.1"), "expired exactly at ttl")
}

func TestCache_MarkUntil(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.MarkUntil("jti-1", clock.Now().Add(time.Hour))
	clock.Advance(30 * time.Minute)
	assert.True(t, c.Check("jti-1"), "per-key expiry outlives default ttl")

	c.MarkUntil("jti-old", clock.Now().Add(-time.Second))
	assert.False(t, c.Check("jti-old"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_MarkUntilNeverShortens(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.MarkUntil("k", clock.Now().Add(time.Hour))
	c.Mark("k")
	clock.Advance(10 * time.Minute)
	assert.True(t, c.Check("k"))
}

func TestCache_CheckAndMark(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark("k"))
	assert.True(t, c.CheckAndMark("k"))

	clock.Advance(2 * time.Minute)
	assert.False(t, c.CheckAndMark("k"), "expired keys can be marked again")
}

func TestCache_EvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 2)

	c.Mark("a")
	c.Mark("b")
	c.Mark("a") // refresh a
	c.Mark("c") // evicts b

	assert.True(t, c.Check("a"))
	assert.False(t, c.Check("b"))
	assert.True(t, c.Check("c"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_ZeroMaxSizeNeverEvicts(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 0)

	for i := range 1000 {
		c.Mark(fmt.Sprintf("k%d", i))
	}
	assert.True(t, c.Check("k0"))
	assert.Equal(t, 1000, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Mark("a")
	c.MarkUntil("b", clock.Now().Add(time.Hour))
	clock.Advance(2 * time.Minute)

	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Check("b"))
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

func TestCache_ConcurrentCheckAndMark(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 1000)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firsts.Load())
}
