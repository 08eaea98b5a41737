package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrNoRefreshToken means the manager has nothing to exchange and the user
// must authenticate again through an external flow.
var ErrNoRefreshToken = errors.New("oauth: no refresh token")

// RefreshError is a non-2xx answer from the token endpoint.
type RefreshError struct {
	Status     int
	Body       string
	retryAfter time.Duration
	hasHint    bool
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed %d: %s", e.Status, e.Body)
}

// RetryAfter exposes the Retry-After header of a 429 answer.
func (e *RefreshError) RetryAfter() (time.Duration, bool) {
	if e.Status != 429 {
		return 0, false
	}
	return e.retryAfter, e.hasHint
}

// Transient reports whether a later attempt may succeed.
func (e *RefreshError) Transient() bool {
	switch e.Status {
	case 429, 500, 502, 503:
		return true
	}
	return false
}

// IsTransient classifies refresh failures for the retry policy.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNoRefreshToken) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
