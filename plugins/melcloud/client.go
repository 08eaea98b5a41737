package melcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/retry"
)

const (
	DefaultBaseURL   = "https://mobile.bff.melcloudhome.com"
	DefaultUserAgent = "MonitorAndControl.App.Mobile/35 CFNetwork/3860.100.1 Darwin/25.0.0"

	maxResponseBytes      = 1 << 20
	defaultRequestTimeout = 10 * time.Second
)

// TokenSource hands out bearer tokens and drops them when the API
// rejects one.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the MELCloud Home mobile API.
type Client struct {
	baseURL    string
	userAgent  string
	tokens     TokenSource
	httpClient *http.Client
	retry      retry.Policy
	timeout    time.Duration
	log        zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.retry = p }
}

func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL, userAgent string, tokens TokenSource, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	c := &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		tokens:     tokens,
		httpClient: &http.Client{},
		retry:      retry.Default(IsRetryable),
		timeout:    defaultRequestTimeout,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Retryable == nil {
		c.retry.Retryable = IsRetryable
	}
	return c
}

// FetchState returns every air-to-air unit of the account, flattened across
// buildings.
func (c *Client) FetchState(ctx context.Context) ([]*DeviceState, error) {
	var resp wireContext
	if err := c.do(ctx, http.MethodGet, "/context", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Buildings == nil {
		return nil, &ValidationError{Op: "context", Err: errors.New("missing buildings")}
	}

	var units []*DeviceState
	for _, b := range resp.Buildings {
		for _, u := range b.AirToAirUnits {
			if u.ID == "" {
				c.log.Warn().Str("building", b.Name).Msg("skipping unit without id")
				continue
			}
			units = append(units, &DeviceState{
				ID:           u.ID,
				Name:         u.GivenDisplayName,
				Building:     b.Name,
				Settings:     u.Settings,
				Capabilities: u.Capabilities,
				Connection: Connection{
					Connected:   u.IsConnected,
					InterfaceID: u.ConnectedInterfaceIdentifier,
					SystemID:    u.SystemID,
					RSSI:        u.RSSI,
					InError:     u.IsInError,
				},
			})
		}
	}
	return units, nil
}

// SendCommand applies cmd to one unit.
func (c *Client) SendCommand(ctx context.Context, unitID string, cmd Command) error {
	if unitID == "" {
		return fmt.Errorf("unit id is required")
	}
	return c.do(ctx, http.MethodPut, "/monitor/ataunit/"+url.PathEscape(unitID), cmd, nil)
}

// do runs one logical request: transient failures are retried by policy,
// and a 401 invalidates the token and replays the whole request once.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	policy := c.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
	}

	reauthenticated := false
	for {
		err := policy.Do(ctx, func(ctx context.Context) error {
			return c.attempt(ctx, method, path, payload, out)
		})
		if err != nil && IsUnauthorized(err) && !reauthenticated {
			reauthenticated = true
			c.log.Info().Str("path", path).Msg("access token rejected, refreshing")
			c.tokens.Invalidate()
			continue
		}
		return err
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return &AuthError{Err: err}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxResponseBytes {
		return &ValidationError{Op: path, Err: ErrResponseTooLarge}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return err
	}
	if len(data) > maxResponseBytes {
		return &ValidationError{Op: path, Err: ErrResponseTooLarge}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Status: resp.StatusCode, Body: string(data)}
		statusErr.retryAfter, statusErr.hasHint = retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return statusErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ValidationError{Op: path, Err: err}
	}
	return nil
}
