package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func TestStore_PutGetDelete(t *testing.T) {
	s, err := NewStore[int](4, time.Minute)
	require.NoError(t, err)

	s.Put("a", 1)
	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	_, err = s.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	s, err := NewStore[string](2, 0, WithEvictCallback(func(id string) { evicted = append(evicted, id) }))
	require.NoError(t, err)

	s.Put("a", "A")
	s.Put("b", "B")
	_, err = s.Get("a") // a is now most recent
	require.NoError(t, err)
	s.Put("c", "C")

	_, err = s.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("a")
	assert.NoError(t, err)
	assert.Equal(t, []string{"b"}, evicted)
}

func TestStore_TTL(t *testing.T) {
	c := newClock()
	s, err := NewStore[int](10, time.Minute, WithClock(c.now))
	require.NoError(t, err)

	s.Put("old", 1)
	c.advance(45 * time.Second)
	s.Put("new", 2)
	_, err = s.Get("old") // refresh
	require.NoError(t, err)

	c.advance(45 * time.Second)
	assert.Equal(t, 0, s.Sweep(c.now()))

	c.advance(30 * time.Second)
	assert.Equal(t, 2, s.Sweep(c.now()))
	assert.Equal(t, 0, s.Len())

	s.Put("x", 3)
	c.advance(2 * time.Minute)
	_, err = s.Get("x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Validation(t *testing.T) {
	_, err := NewStore[int](0, time.Minute)
	assert.Error(t, err)
}

func TestStore_Concurrent(t *testing.T) {
	s, err := NewStore[int](64, time.Minute)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 100 {
				id := fmt.Sprintf("%d-%d", g, i%10)
				s.Put(id, i)
				_, _ = s.Get(id)
				s.Sweep(time.Now())
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 64)
}

func TestStore_Run(t *testing.T) {
	s, err := NewStore[int](4, time.Nanosecond)
	require.NoError(t, err)
	s.Put("a", 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(time.Millisecond, stop)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
	close(stop)
	<-done
}
