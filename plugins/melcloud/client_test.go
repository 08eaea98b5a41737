package melcloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshp123/gohome-melcloud/internal/rate"
	"github.com/joshp123/gohome-melcloud/internal/retry"
)

const contextFixture = `{
  "id": "user-1",
  "buildings": [
    {
      "id": "b1",
      "name": "Home",
      "airToAirUnits": [
        {
          "id": "u1",
          "givenDisplayName": "Living Room",
          "rssi": -48,
          "isConnected": true,
          "connectedInterfaceIdentifier": "IF-1",
          "systemId": "sys-1",
          "settings": [
            {"name": "Power", "value": "True"},
            {"name": "OperationMode", "value": "Heat"},
            {"name": "SetFanSpeed", "value": "3"},
            {"name": "SetTemperature", "value": "21.5"},
            {"name": "RoomTemperature", "value": "20"}
          ],
          "capabilities": {"numberOfFanSpeeds": 5, "hasHalfDegreeIncrements": true}
        },
        {"givenDisplayName": "No ID"}
      ]
    },
    {
      "id": "b2",
      "name": "Cabin",
      "airToAirUnits": [
        {"id": "u2", "givenDisplayName": "Bedroom", "settings": []}
      ]
    }
  ]
}`

type testTokens struct {
	mu          sync.Mutex
	tokens      []string
	invalidated int
	err         error
}

func (s *testTokens) AccessToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.tokens[min(s.invalidated, len(s.tokens)-1)], nil
}

func (s *testTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) policy() retry.Policy {
	p := retry.Default(IsRetryable)
	p.Sleep = func(_ context.Context, d time.Duration) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.delays = append(r.delays, d)
		return nil
	}
	return p
}

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens *testTokens, sleeps *recordedSleeps) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	if tokens == nil {
		tokens = &testTokens{tokens: []string{"access-1"}}
	}
	if sleeps == nil {
		sleeps = &recordedSleeps{}
	}
	return NewClient(server.URL, "gohome-test/1", tokens, WithRetryPolicy(sleeps.policy()))
}

func TestFetchStateParsesContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/context" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "gohome-test/1" {
			t.Errorf("unexpected user agent: %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("unexpected accept header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, contextFixture)
	}, nil, nil)

	states, err := client.FetchState(context.Background())
	if err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 units, got %d", len(states))
	}
	u1 := states[0]
	if u1.ID != "u1" || u1.Name != "Living Room" || u1.Building != "Home" {
		t.Fatalf("unexpected unit identity: %+v", u1)
	}
	if !u1.Connection.Connected || u1.Connection.InterfaceID != "IF-1" || u1.Connection.RSSI != -48 {
		t.Fatalf("unexpected connection: %+v", u1.Connection)
	}
	if speed, ok := u1.FanSpeed(); !ok || speed != FanSpeedThree {
		t.Fatalf("expected fan speed 3, got %v", speed)
	}
	if temp, ok := u1.SetTemperature(); !ok || temp != 21.5 {
		t.Fatalf("expected setpoint 21.5, got %v", temp)
	}
	if u1.Capabilities.Step() != 0.5 {
		t.Fatalf("expected half degree steps")
	}
	if states[1].Building != "Cabin" {
		t.Fatalf("expected second unit in Cabin, got %q", states[1].Building)
	}
}

func TestFetchStateMissingBuildings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"user-1"}`)
	}, nil, nil)

	_, err := client.FetchState(context.Background())
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestMalformedJSONIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"buildings":`)
	}, nil, nil)

	_, err := client.FetchState(context.Background())
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	sleeps := &recordedSleeps{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, contextFixture)
	}, nil, sleeps)

	if _, err := client.FetchState(context.Background()); err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != 2*time.Second {
		t.Fatalf("expected 1s then 2s backoff, got %v", sleeps.delays)
	}
}

func TestRetryAfterIsHonoured(t *testing.T) {
	var calls atomic.Int32
	sleeps := &recordedSleeps{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, contextFixture)
	}, nil, sleeps)

	if _, err := client.FetchState(context.Background()); err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != 7*time.Second {
		t.Fatalf("expected a 7s wait, got %v", sleeps.delays)
	}
}

func TestServerErrorRetryAfterKeepsBackoffThroughGuard(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, contextFixture)
	}))
	t.Cleanup(server.Close)

	cfg := Config{RateLimitPerMinute: 30, RateLimitPerDay: 5000}
	sleeps := &recordedSleeps{}
	client := NewClient(server.URL, "gohome-test/1", &testTokens{tokens: []string{"access-1"}},
		WithHTTPClient(rate.WrapHTTP(cfg.RateLimits(), nil)),
		WithRetryPolicy(sleeps.policy()),
	)

	if _, err := client.FetchState(context.Background()); err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != 2*time.Second {
		t.Fatalf("expected 1s then 2s backoff, got %v", sleeps.delays)
	}
}

func TestRateLimitsWithoutCaps(t *testing.T) {
	if (Config{RateLimitPerMinute: -1, RateLimitPerDay: -1}).RateLimits().HasLimits() {
		t.Fatalf("expected negative limits to remove every cap")
	}
	limits := (Config{RateLimitPerMinute: 30, RateLimitPerDay: 17280}).RateLimits().Limits()
	if limits[rate.Minute] != 30 || limits[rate.Day] != 17280 {
		t.Fatalf("unexpected limits %v", limits)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil, nil)

	_, err := client.FetchState(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad"}`)
	}, nil, nil)

	err := client.SendCommand(context.Background(), "u1", Command{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if !strings.Contains(statusErr.Body, "bad") {
		t.Fatalf("expected body kept, got %q", statusErr.Body)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	tokens := &testTokens{tokens: []string{"stale", "fresh"}}
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, contextFixture)
	}, tokens, nil)

	if _, err := client.FetchState(context.Background()); err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if tokens.invalidated != 1 || calls.Load() != 2 {
		t.Fatalf("expected one refresh and two calls, got %d/%d", tokens.invalidated, calls.Load())
	}
}

func TestPersistentUnauthorizedFails(t *testing.T) {
	tokens := &testTokens{tokens: []string{"stale"}}
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, tokens, nil)

	_, err := client.FetchState(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two calls, got %d", calls.Load())
	}
}

func TestTokenFailureIsAuthError(t *testing.T) {
	tokens := &testTokens{err: errors.New("no refresh token")}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request")
	}, tokens, nil)

	_, err := client.FetchState(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("auth errors must not be retried")
	}
}

func TestResponseSizeIsCapped(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"buildings":[],"pad":"`+strings.Repeat("x", maxResponseBytes)+`"}`)
	}, nil, nil)

	_, err := client.FetchState(context.Background())
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestSendCommandBody(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/monitor/ataunit/u1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
			t.Errorf("unexpected content type: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}, nil, nil)

	cmd := buildCommand(testUnit("u1"), Patch{Temperature: ptr(23.5)})
	if err := client.SendCommand(context.Background(), "u1", cmd); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if body["power"] != true || body["setTemperature"] != 23.5 || body["operationMode"] != "Heat" {
		t.Fatalf("unexpected body: %v", body)
	}
	if v, ok := body["inStandbyMode"]; !ok || v != nil {
		t.Fatalf("expected inStandbyMode sent as null, got %v (present=%v)", v, ok)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{Status: 429}, true},
		{"500", &StatusError{Status: 500}, true},
		{"503", &StatusError{Status: 503}, true},
		{"404", &StatusError{Status: 404}, false},
		{"validation", &ValidationError{Op: "x", Err: errors.New("bad")}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"eof", io.ErrUnexpectedEOF, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
