package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter allows each client a fixed number of requests per window.
type RateLimiter struct {
	mu sync.Mutex

	limit  int
	window time.Duration
	now    func() time.Time

	clients map[string]*clientWindow
}

type clientWindow struct {
	start time.Time
	count int
}

// NewRateLimiter allows limit requests per window for every client. A
// non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientWindow),
	}
}

// Allow records a request from client and returns a *RateLimitError when the
// client has used up its window.
func (rl *RateLimiter) Allow(client string) error {
	if rl == nil || rl.limit <= 0 {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= rl.window {
		w = &clientWindow{start: now}
		rl.clients[client] = w
	}
	if w.count >= rl.limit {
		return &RateLimitError{
			Limit:      rl.limit,
			Window:     rl.window,
			RetryAfter: rl.window - now.Sub(w.start),
		}
	}
	w.count++
	return nil
}

// Remaining returns how many requests client may still make in its window.
func (rl *RateLimiter) Remaining(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.clients[client]
	if !ok || rl.now().Sub(w.start) >= rl.window {
		return rl.limit
	}
	return max(rl.limit-w.count, 0)
}

// Sweep drops clients whose window has ended and returns how many were dropped.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	n := 0
	for id, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, id)
			n++
		}
	}
	return n
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d per %v, retry after: %v)", e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}
