package webhooks

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterSet hands out one token bucket per (vendor, brand). A zero limit
// disables limiting.
type limiterSet struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (s *limiterSet) allow(vendor, brand string) bool {
	if s == nil || s.limit <= 0 {
		return true
	}
	key := vendor + "/" + brand
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}
