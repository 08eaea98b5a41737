package melcloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/joshp123/gohome-melcloud/internal/rate"
)

var (
	ErrResponseTooLarge = errors.New("melcloud: response exceeds size limit")
	ErrUnitNotFound     = errors.New("melcloud: unit not found")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Status     int
	Body       string
	retryAfter time.Duration
	hasHint    bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("melcloud api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// RetryAfter exposes the Retry-After header of a 429 answer.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	if e.Status != http.StatusTooManyRequests {
		return 0, false
	}
	return e.retryAfter, e.hasHint
}

// ValidationError is a response that arrived but cannot be used.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("melcloud %s: invalid response: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthError wraps a failure to obtain an access token. It has already been
// retried by the token manager.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "melcloud auth: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether the API rejected the access token.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized
}

// IsRetryable reports whether err is a transient network or server failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &authErr), errors.As(err, &validationErr):
		return false
	case rate.IsRateLimited(err), errors.Is(err, context.Canceled):
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return true
		}
		return false
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}
