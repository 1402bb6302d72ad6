package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

// RateDecision is the outcome of a rate check. RetryAfter is only set when
// Limited is true.
type RateDecision struct {
	Limited    bool
	RetryAfter time.Duration
}

// RateLimiter is the injected capability gating bid throughput per bidder.
// The sliding-window implementation is correct for a single instance; the
// store-backed one shares its counter through the audit table and is the one
// to deploy when the engine runs horizontally scaled.
type RateLimiter interface {
	Check(ctx context.Context, userID string) (RateDecision, error)
}

// SlidingWindowLimiter keeps a per-bidder window of recent bid timestamps in
// process memory.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	maxBids int
	window  time.Duration
	spacing time.Duration
	now     func() time.Time
}

func NewSlidingWindowLimiter(maxBids int, window, spacing time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows: make(map[string][]time.Time),
		maxBids: maxBids,
		window:  window,
		spacing: spacing,
		now:     time.Now,
	}
}

func (l *SlidingWindowLimiter) Check(_ context.Context, userID string) (RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.windows[userID][:0]
	for _, ts := range l.windows[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	l.windows[userID] = recent

	if len(recent) >= l.maxBids {
		// Wait long enough that the next bid lands at least one spacing
		// interval after the most recent accepted one.
		wait := l.spacing - now.Sub(recent[len(recent)-1])
		if wait <= 0 {
			wait = l.spacing
		}
		return RateDecision{Limited: true, RetryAfter: wait}, nil
	}

	l.windows[userID] = append(recent, now)
	return RateDecision{}, nil
}

// StoreRateLimiter counts a bidder's recent bid_attempt audit rows, so every
// engine instance observes the same window. The pipeline's audit write of
// each attempt is what advances the counter.
type StoreRateLimiter struct {
	audits  repositories.AuditRepository
	maxBids int
	window  time.Duration
	spacing time.Duration
	now     func() time.Time
}

func NewStoreRateLimiter(audits repositories.AuditRepository, maxBids int, window, spacing time.Duration) *StoreRateLimiter {
	return &StoreRateLimiter{
		audits:  audits,
		maxBids: maxBids,
		window:  window,
		spacing: spacing,
		now:     time.Now,
	}
}

func (l *StoreRateLimiter) Check(ctx context.Context, userID string) (RateDecision, error) {
	count, err := l.audits.CountRecentByAction(ctx, userID, ActionBidAttempt, l.now().Add(-l.window))
	if err != nil {
		return RateDecision{}, err
	}
	if count >= l.maxBids {
		return RateDecision{Limited: true, RetryAfter: l.spacing}, nil
	}
	return RateDecision{}, nil
}
