package formmanager

import (
	"sync"
	"time"

	"tronrecon/internal/config"
	"tronrecon/internal/rerr"
)

// userCounter tracks one caller's form-creation activity for the
// per-user interval and hourly-quota checks.
type userCounter struct {
	lastCreated time.Time
	windowStart time.Time
	count       int
}

// rateLimiter enforces the global interval and per-user interval/quota
// rules under one mutex. The per-user map is capped and swept the way
// the reference engine bounds its in-process counter table.
type rateLimiter struct {
	mu sync.Mutex

	globalInterval time.Duration
	lastGlobal     time.Time

	userInterval time.Duration
	hourlyQuota  int
	maxUsers     int

	users map[string]*userCounter
}

func newRateLimiter(cfg *config.Config) *rateLimiter {
	return &rateLimiter{
		globalInterval: time.Duration(cfg.MinFormCreationIntervalSeconds * float64(time.Second)),
		userInterval:   time.Duration(cfg.MinUserFormIntervalSeconds * float64(time.Second)),
		hourlyQuota:    cfg.MaxUserFormsPerHour,
		maxUsers:       cfg.MaxUserCounters,
		users:          make(map[string]*userCounter),
	}
}

// checkGlobalInterval rejects a creation attempt that arrives before the
// process-wide minimum spacing has elapsed. It does not advance state;
// call commit after the creation actually succeeds.
func (r *rateLimiter) checkGlobalInterval(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastGlobal.IsZero() && now.Sub(r.lastGlobal) < r.globalInterval {
		return rerr.New(rerr.RateLimited, "form creation rate limit exceeded")
	}
	return nil
}

// checkUser rejects a creation attempt that violates either the per-user
// minimum interval or the rolling hourly quota.
func (r *rateLimiter) checkUser(userID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	uc, ok := r.users[userID]
	if !ok {
		return nil
	}
	if now.Sub(uc.lastCreated) < r.userInterval {
		return rerr.New(rerr.RateLimited, "per-user form creation rate limit exceeded")
	}
	if now.Sub(uc.windowStart) < time.Hour && uc.count >= r.hourlyQuota {
		return rerr.New(rerr.RateLimited, "per-user hourly form quota exceeded")
	}
	return nil
}

// commit records a successful creation against the global and per-user
// counters, sweeping the user map if it has grown past its bound.
func (r *rateLimiter) commit(userID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastGlobal = now

	if userID == "" {
		return
	}
	uc, ok := r.users[userID]
	if !ok {
		uc = &userCounter{windowStart: now}
		r.users[userID] = uc
	}
	if now.Sub(uc.windowStart) >= time.Hour {
		uc.windowStart = now
		uc.count = 0
	}
	uc.lastCreated = now
	uc.count++

	if len(r.users) > r.maxUsers {
		r.sweepLocked(now)
	}
}

// sweepLocked evicts stale entries first, then the oldest remaining
// entries until at least 1000 slots are free. Callers must hold r.mu.
func (r *rateLimiter) sweepLocked(now time.Time) {
	for id, uc := range r.users {
		if now.Sub(uc.lastCreated) > time.Hour {
			delete(r.users, id)
		}
	}
	const freeTarget = 1000
	for len(r.users) > r.maxUsers-freeTarget {
		var oldestID string
		var oldestTime time.Time
		for id, uc := range r.users {
			if oldestID == "" || uc.lastCreated.Before(oldestTime) {
				oldestID = id
				oldestTime = uc.lastCreated
			}
		}
		if oldestID == "" {
			break
		}
		delete(r.users, oldestID)
	}
}
