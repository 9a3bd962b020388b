package explorer

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// rateLimiter enforces two constraints under one mutex: a sliding 60-
// second window capping total issued requests, and an independent 429
// backoff that grows multiplicatively and is cleared by the next
// successful response. The per-request minimum spacing is delegated to
// go.uber.org/ratelimit's leaky-bucket pacing, layered underneath the
// window/backoff bookkeeping.
type rateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	requestTimes      []time.Time
	backoffFactor     int
	last429           time.Time

	pacer ratelimit.Limiter
}

const maxBackoffFactor = 8

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 20
	}
	spacing := math.Max(3.0, 60.0/float64(requestsPerMinute))
	perSecond := 1.0 / spacing

	return &rateLimiter{
		requestsPerMinute: requestsPerMinute,
		backoffFactor:      1,
		pacer:              ratelimit.New(1, ratelimit.Per(time.Duration(float64(time.Second)/perSecond))),
	}
}

// wait blocks until the next request is permitted: it first honors any
// active 429 backoff, then the sliding 60-second window, then the
// leaky-bucket pacer's minimum spacing.
func (r *rateLimiter) wait(ctx context.Context) {
	r.mu.Lock()
	now := time.Now()

	if !r.last429.IsZero() {
		resumeAt := r.last429.Add(time.Duration(r.backoffFactor) * 30 * time.Second)
		if now.Before(resumeAt) {
			wait := resumeAt.Sub(now)
			r.mu.Unlock()
			sleep(ctx, wait)
			r.mu.Lock()
		}
	}

	cutoff := time.Now().Add(-60 * time.Second)
	pruned := r.requestTimes[:0]
	for _, t := range r.requestTimes {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	r.requestTimes = pruned

	for len(r.requestTimes) >= r.requestsPerMinute {
		oldest := r.requestTimes[0]
		wait := oldest.Add(60 * time.Second).Sub(time.Now())
		r.mu.Unlock()
		if wait > 0 {
			sleep(ctx, wait)
		}
		r.mu.Lock()
		cutoff = time.Now().Add(-60 * time.Second)
		pruned = r.requestTimes[:0]
		for _, t := range r.requestTimes {
			if t.After(cutoff) {
				pruned = append(pruned, t)
			}
		}
		r.requestTimes = pruned
	}

	r.requestTimes = append(r.requestTimes, time.Now())
	r.mu.Unlock()

	r.pacer.Take()
}

// note429 records a 429 response and grows the backoff factor, capped at
// maxBackoffFactor.
func (r *rateLimiter) note429() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last429 = time.Now()
	r.backoffFactor *= 2
	if r.backoffFactor > maxBackoffFactor {
		r.backoffFactor = maxBackoffFactor
	}
}

// noteSuccess resets the 429 backoff after a 200 response.
func (r *rateLimiter) noteSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffFactor = 1
	r.last429 = time.Time{}
}
