// Package client talks to a telemetryd instance over HTTP.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/ingest"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 64 << 10
)

// TokenProvider supplies the bearer token for each request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type Config struct {
	BaseURL string
	Timeout time.Duration
	// BreakerFailures is the number of consecutive transient failures
	// that opens the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUnauthorizedHook registers fn to run whenever the server answers
// 401. It is the place to clear the session.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// Client is safe for concurrent use.
type Client struct {
	base           *url.URL
	http           *http.Client
	tokens         TokenProvider
	onUnauthorized func()
	cb             *gobreaker.CircuitBreaker[*response]
	name           string
}

type response struct {
	status int
	body   []byte
}

func New(cfg Config, tokens TokenProvider, opts ...Option) (*Client, error) {
	errFactory := errors.New()

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "base URL must be an absolute http(s) URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		name:   "telemetryd-" + base.Host,
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics.CircuitBreakerState.WithLabelValues(c.name).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        c.name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	})

	return c, nil
}

func (c *Client) Ingest(ctx context.Context, candidate ingest.Candidate) (telemetry.Point, error) {
	var point telemetry.Point
	err := c.do(ctx, http.MethodPost, "/telemetry", nil, candidate, &point, true)
	return point, err
}

// Query returns the newest points, optionally restricted to one device.
func (c *Client) Query(ctx context.Context, deviceID string, limit int) ([]telemetry.Point, error) {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var points []telemetry.Point
	err := c.do(ctx, http.MethodGet, "/telemetry", q, nil, &points, true)
	return points, err
}

func (c *Client) Devices(ctx context.Context) ([]device.Device, error) {
	var devices []device.Device
	err := c.do(ctx, http.MethodGet, "/devices", nil, nil, &devices, true)
	return devices, err
}

func (c *Client) RegisterDevice(ctx context.Context, reg device.Registration) (device.Device, error) {
	var d device.Device
	err := c.do(ctx, http.MethodPost, "/devices", nil, reg, &d, true)
	return d, err
}

func (c *Client) DevicesSummary(ctx context.Context) ([]device.Summary, error) {
	var resp struct {
		Devices []device.Summary `json:"devices"`
	}
	err := c.do(ctx, http.MethodGet, "/telemetry/devices/summary", nil, nil, &resp, true)
	return resp.Devices, err
}

func (c *Client) Analytics(ctx context.Context, deviceID string, period aggregate.Period) (aggregate.Analytics, error) {
	q := url.Values{}
	if period != "" {
		q.Set("period", string(period))
	}

	var a aggregate.Analytics
	err := c.do(ctx, http.MethodGet, devicePath(deviceID, "analytics"), q, nil, &a, true)
	return a, err
}

func (c *Client) Health(ctx context.Context, deviceID string) (health.Status, error) {
	var s health.Status
	err := c.do(ctx, http.MethodGet, devicePath(deviceID, "health"), nil, nil, &s, true)
	return s, err
}

// devicePath returns the escaped path of a per-device resource.
func devicePath(deviceID, resource string) string {
	return "/telemetry/" + url.PathEscape(deviceID) + "/" + resource
}

// Ping calls the unauthenticated liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil, false)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, authed bool) error {
	errFactory := errors.New()

	var token string
	if authed {
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return errFactory.Wrap(ErrUnauthorized, err)
		}
		token = t
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
		payload = data
	}

	// path is already escaped.
	u := *c.base
	u.RawPath = c.base.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	u.Path = unescaped
	u.RawQuery = query.Encode()

	resp, err := c.cb.Execute(func() (*response, error) {
		return c.send(ctx, method, u.String(), token, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			return errFactory.WithMessage(ErrTransient, "Service temporarily unavailable")
		}
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		return err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()

	switch {
	case resp.status == http.StatusUnauthorized:
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return errFactory.WithMessage(ErrUnauthorized, detailOf(resp.body, errors.GetErrorMessage(ErrUnauthorized)))
	case resp.status == http.StatusNotFound:
		return errFactory.WithMessage(ErrNotFound, detailOf(resp.body, defaultDetail))
	case resp.status >= http.StatusBadRequest:
		return errFactory.WithMessage(ErrRejected, detailOf(resp.body, defaultDetail))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return errFactory.Wrap(ErrDecode, err)
	}
	return nil
}

// send performs one round trip. Only transient failures are returned as
// errors so that client errors never count against the breaker.
func (c *Client) send(ctx context.Context, method, target, token string, payload []byte) (*response, error) {
	errFactory := errors.New()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrTransient, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errFactory.Wrap(ErrTransient, err)
	}

	if res.StatusCode >= http.StatusInternalServerError {
		return nil, errFactory.WithMessage(ErrTransient, detailOf(limit(data), "Service unavailable"))
	}

	return &response{status: res.StatusCode, body: data}, nil
}

func detailOf(body []byte, fallback string) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == "" {
		return fallback
	}
	return e.Detail
}

func limit(b []byte) []byte {
	if len(b) > maxErrorBody {
		return b[:maxErrorBody]
	}
	return b
}
