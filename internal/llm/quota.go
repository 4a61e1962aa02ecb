package llm

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Quota is a per-user token bucket for primary-model calls.
type Quota struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewQuota allows perHour primary calls per user with the given burst.
// perHour <= 0 returns nil, which means unlimited.
func NewQuota(perHour float64, burst int) *Quota {
	if perHour <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Quota{
		limit:    rate.Limit(perHour / time.Hour.Seconds()),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one call for userID and reports whether it was available.
func (q *Quota) Allow(userID string) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	l, ok := q.limiters[userID]
	if !ok {
		l = rate.NewLimiter(q.limit, q.burst)
		q.limiters[userID] = l
	}
	q.mu.Unlock()
	return l.Allow()
}
