package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stock-datahub/src/helpers"

	"golang.org/x/time/rate"
)

// Throttle gates calls to one provider. It spaces requests with a token
// bucket and, once the provider reports a rate limit, fails every call fast
// until the cooldown has elapsed.
type Throttle struct {
	provider string
	limiter  *rate.Limiter
	backoff  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	until time.Time
}

// New builds a throttle allowing perMinute requests (unlimited when <= 0)
// and cooling down for backoff after a rate-limit response.
func New(provider string, perMinute int, backoff time.Duration) *Throttle {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
		burst = max(1, perMinute/60)
	}
	return &Throttle{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
		backoff:  backoff,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Acquire waits for a request slot. It returns a rate-limit ProviderError
// while cooling down or when the slot would not arrive before ctx expires.
func (t *Throttle) Acquire(ctx context.Context) error {
	if until, cooling := t.CoolingDown(); cooling {
		return helpers.NewProviderError(t.provider, helpers.ErrRateLimit,
			fmt.Sprintf("cooling down until %s", until.Format(time.RFC3339)), nil)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return helpers.NewProviderError(t.provider, helpers.ErrRateLimit, "request budget exhausted", err)
	}
	return nil
}

// Observe records the outcome of a call and starts a cooldown on rate limits.
func (t *Throttle) Observe(err error) {
	if err == nil || !helpers.IsProviderKind(err, helpers.ErrRateLimit) || t.backoff <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	until := t.now().Add(t.backoff)
	if until.After(t.until) {
		t.until = until
	}
}

// CoolingDown reports whether calls are currently suspended.
func (t *Throttle) CoolingDown() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.until, t.now().Before(t.until)
}
