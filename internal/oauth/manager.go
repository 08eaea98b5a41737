package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/joshp123/gohome-melcloud/internal/retry"
)

// Status is the lifecycle state of the credentials held by a Manager.
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusExpiring
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// RotateFunc receives every new refresh token issued by the provider.
type RotateFunc func(ctx context.Context, refreshToken string)

// Option customises a Manager.
type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithExpiryBuffer overrides DefaultExpiryBuffer.
func WithExpiryBuffer(d time.Duration) Option {
	return func(m *Manager) { m.buffer = d }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.retry = p }
}

func WithRotationHandler(fn RotateFunc) Option {
	return func(m *Manager) { m.onRotate = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the access/refresh token pair of one provider. Concurrent
// callers that need a refresh share a single exchange.
type Manager struct {
	decl       Declaration
	config     *oauth2.Config
	httpClient *http.Client
	buffer     time.Duration
	retry      retry.Policy
	onRotate   RotateFunc
	log        zerolog.Logger
	now        func() time.Time

	group singleflight.Group

	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string
	status       Status
}

func NewManager(decl Declaration, refreshToken string, opts ...Option) (*Manager, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		decl:         decl,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		buffer:       DefaultExpiryBuffer,
		retry:        retry.Default(IsTransient),
		log:          zerolog.Nop(),
		now:          time.Now,
		refreshToken: strings.TrimSpace(refreshToken),
		config: &oauth2.Config{
			ClientID:     decl.ClientID,
			ClientSecret: decl.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry.Retryable == nil {
		m.retry.Retryable = IsTransient
	}
	if decl.UserAgent != "" {
		client := *m.httpClient
		client.Transport = &userAgentTransport{base: client.Transport, agent: decl.UserAgent}
		m.httpClient = &client
	}
	m.log = m.log.With().Str("provider", decl.Provider).Logger()
	return m, nil
}

// AccessToken returns a token valid for at least the expiry buffer,
// refreshing first when needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.validLocked() {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	return m.refresh(ctx)
}

// Invalidate drops the cached access token so the next AccessToken call
// performs a refresh. Used after a downstream 401.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.expiresAt = time.Time{}
	setTokenValid(m.decl.Provider, false, time.Time{})
}

// Refresh forces a token exchange.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.Invalidate()
	return m.refresh(ctx)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusAuthenticated && !m.validLocked() {
		return StatusExpiring
	}
	return m.status
}

func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

func (m *Manager) HasRefreshToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken != ""
}

// Start refreshes proactively every interval once the token enters the
// expiry buffer, so polls rarely pay for an exchange.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.AccessToken(ctx); err != nil && ctx.Err() == nil {
					m.log.Warn().Err(err).Msg("background token refresh failed")
				}
			}
		}
	}()
}

// validLocked reports whether the cached token can be handed out. A token
// without a reported lifetime stays valid until invalidated.
func (m *Manager) validLocked() bool {
	if m.accessToken == "" {
		return false
	}
	if m.expiresAt.IsZero() {
		return true
	}
	return m.expiresAt.Sub(m.now()) > m.buffer
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	// The exchange outlives any single caller: a cancelled request must not
	// abort a refresh that other callers are waiting on.
	ch := m.group.DoChan("refresh", func() (any, error) {
		return m.exchangeShared(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) exchangeShared(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.validLocked() {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	refreshToken := m.refreshToken
	if refreshToken == "" {
		m.status = StatusUnauthenticated
		m.mu.Unlock()
		observeRefresh(m.decl.Provider, ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}
	m.status = StatusAuthenticating
	m.mu.Unlock()

	policy := m.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying token refresh")
	}

	var token *oauth2.Token
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		token, err = m.exchange(ctx, refreshToken)
		return err
	})
	if err != nil {
		m.mu.Lock()
		m.status = StatusUnauthenticated
		m.accessToken = ""
		m.mu.Unlock()
		observeRefresh(m.decl.Provider, err)
		m.log.Error().Err(err).Msg("token refresh failed")
		return "", err
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	rotated := token.RefreshToken != "" && token.RefreshToken != m.refreshToken
	if rotated {
		m.refreshToken = token.RefreshToken
	}
	m.status = StatusAuthenticated
	m.mu.Unlock()

	observeRefresh(m.decl.Provider, nil)
	setTokenValid(m.decl.Provider, true, token.Expiry)
	m.log.Debug().Time("expires_at", token.Expiry).Bool("rotated", rotated).Msg("access token refreshed")

	if rotated {
		rotations.WithLabelValues(m.decl.Provider).Inc()
		if m.onRotate != nil {
			m.onRotate(ctx, token.RefreshToken)
		}
	}
	return token.AccessToken, nil
}

func (m *Manager) exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err == nil {
		return token, nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		refreshErr := &RefreshError{
			Status: retrieveErr.Response.StatusCode,
			Body:   strings.TrimSpace(string(retrieveErr.Body)),
		}
		refreshErr.retryAfter, refreshErr.hasHint = retry.ParseRetryAfter(retrieveErr.Response.Header.Get("Retry-After"), m.now())
		return nil, refreshErr
	}
	return nil, fmt.Errorf("token refresh: %w", err)
}

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return base.RoundTrip(clone)
}
