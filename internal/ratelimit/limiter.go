package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces a fixed-window request budget per key. The pipeline's
// entry points consult it before any expensive upstream call.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
