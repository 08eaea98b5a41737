package rate

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/joshp123/gohome-melcloud/internal/retry"
)

// RateLimitError is returned when the local budget blocks a call.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// IsRateLimited reports whether err came from a Guard.
func IsRateLimited(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a provider's request budget with one token bucket per
// window and a cooldown taken from Retry-After.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// NewGuard returns a Guard with full buckets.
func NewGuard(decl Declaration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{
		decl:    decl,
		now:     now,
		buckets: make(map[Window]*bucket),
	}
	start := now()
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: start}
		setRemaining(decl.ProviderName(), window, float64(limit))
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl, nil).Wrap(base)
}

// Wrap returns a copy of base whose transport consults the guard.
func (g *Guard) Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		observeBlocked(rt.guard.decl.ProviderName(), decision.Reason)
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one token from every window, or explains why not.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.decl.HasLimits() {
		return Decision{Allowed: true}
	}
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		refill(b, window.Duration(), now)
		if b.capacity <= 0 || b.tokens < 1 {
			var retryAt time.Time
			if b.capacity > 0 {
				retryAt = now.Add(window.Duration() / time.Duration(b.capacity))
			}
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		setRemaining(g.decl.ProviderName(), window, b.tokens)
	}
	return Decision{Allowed: true}
}

// RecordResponse applies the Retry-After of a 429 as a cooldown. Other
// statuses leave pacing to the caller's retry policy.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	observeResponse(g.decl.ProviderName(), status)

	name := g.decl.Headers().RetryAfter
	if name == "" || status != http.StatusTooManyRequests {
		return
	}
	now := g.now()
	if wait, ok := retry.ParseRetryAfter(headers.Get(name), now); ok && wait > 0 {
		g.cooldown = now.Add(wait)
		observeCooldown(g.decl.ProviderName(), wait)
	}
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*rate)
	b.last = now
}
