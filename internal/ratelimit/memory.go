package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the single-process fixed-window limiter, used when no
// redis address is configured. Windows are aligned to their first request.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*windowState
}

type windowState struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*windowState),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.windows[key]
	if !ok || !now.Before(state.resetAt) {
		state = &windowState{resetAt: now.Add(l.window)}
		l.windows[key] = state
	}
	state.count++

	remaining := l.limit - state.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   state.count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   state.resetAt,
	}, nil
}
