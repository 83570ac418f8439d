// Package identity wraps the external HTTP collaborator that resolves
// auth tokens to user profiles and looks up chart/record metadata
// (spec.md §6.2). It is a thin, circuit-broken HTTP client; it owns no
// server state.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/noteflow/mp-server/internal/logging"
	"github.com/noteflow/mp-server/internal/metrics"
	"github.com/sony/gobreaker"
)

// AuthInfo is the JSON shape returned by GET /me.
type AuthInfo struct {
	ID       int32  `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Chart is the JSON shape returned by GET /chart/{id}.
type Chart struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// Record is the JSON shape returned by GET /record/{id}.
type Record struct {
	ID        int32   `json:"id"`
	Player    int32   `json:"player"`
	Score     int32   `json:"score"`
	Perfect   int32   `json:"perfect"`
	Good      int32   `json:"good"`
	Bad       int32   `json:"bad"`
	Miss      int32   `json:"miss"`
	MaxCombo  int32   `json:"max_combo"`
	Accuracy  float32 `json:"accuracy"`
	FullCombo bool    `json:"full_combo"`
	Std       float32 `json:"std"`
	StdScore  float32 `json:"std_score"`
}

// Client issues the three GETs this server ever needs against the
// identity service, each guarded by its own circuit breaker so a stalled
// upstream fails fast instead of starving session handler goroutines.
type Client struct {
	baseURL string
	http    *http.Client

	meBreaker     *gobreaker.CircuitBreaker
	chartBreaker  *gobreaker.CircuitBreaker
	recordBreaker *gobreaker.CircuitBreaker
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (useful in tests).
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithBreakerSettings overrides all three breakers' base Settings (Name
// is filled in per-endpoint regardless).
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.meBreaker = newBreaker("identity.me", st)
		c.chartBreaker = newBreaker("identity.chart", st)
		c.recordBreaker = newBreaker("identity.record", st)
	}
}

func newBreaker(name string, st gobreaker.Settings) *gobreaker.CircuitBreaker {
	st.Name = name
	onChange := st.OnStateChange
	st.OnStateChange = func(n string, from, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			metrics.IdentityBreakerOpen.Inc()
			logging.L().Warn("identity_breaker_open", "endpoint", n)
		}
		if onChange != nil {
			onChange(n, from, to)
		}
	}
	return gobreaker.NewCircuitBreaker(st)
}

func defaultSettings() gobreaker.Settings {
	return gobreaker.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// New creates a Client pointed at baseURL (e.g. "https://api.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	st := defaultSettings()
	c.meBreaker = newBreaker("identity.me", st)
	c.chartBreaker = newBreaker("identity.chart", st)
	c.recordBreaker = newBreaker("identity.record", st)
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchAuthInfo resolves a bearer token to a user profile via GET /me.
func (c *Client) FetchAuthInfo(ctx context.Context, token string) (AuthInfo, error) {
	var out AuthInfo
	_, err := c.meBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil, c.doJSON(req, &out)
	})
	if err != nil {
		metrics.IdentityRequestFailures.WithLabelValues("me").Inc()
		return AuthInfo{}, err
	}
	return out, nil
}

// FetchChart looks up chart metadata via GET /chart/{id}.
func (c *Client) FetchChart(ctx context.Context, id int32) (Chart, error) {
	var out Chart
	_, err := c.chartBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/chart/%d", c.baseURL, id), nil)
		if err != nil {
			return nil, err
		}
		return nil, c.doJSON(req, &out)
	})
	if err != nil {
		metrics.IdentityRequestFailures.WithLabelValues("chart").Inc()
		return Chart{}, err
	}
	return out, nil
}

// FetchRecord looks up a play record via GET /record/{id}.
func (c *Client) FetchRecord(ctx context.Context, id int32) (Record, error) {
	var out Record
	_, err := c.recordBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/record/%d", c.baseURL, id), nil)
		if err != nil {
			return nil, err
		}
		return nil, c.doJSON(req, &out)
	})
	if err != nil {
		metrics.IdentityRequestFailures.WithLabelValues("record").Inc()
		return Record{}, err
	}
	return out, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity request failed: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
