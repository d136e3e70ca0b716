// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playerapi is the HTTP client for the signage backend's player
// endpoints. Every method performs exactly one request; retry and backoff
// belong to the resilience controller wrapping the calls.
package playerapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/telemetry"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Options configures the client.
type Options struct {
	Timeout        time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	UserAgent      string
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

const (
	defaultTimeout        = 10 * time.Second
	defaultRateLimit      = 5
	defaultRateLimitBurst = 10
	maxBodyBytes          = 4 << 20
)

// Client talks to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient creates a client for baseURL (scheme://host[:port][/prefix]).
func NewClient(baseURL string, opts Options) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", baseURL)
	}

	opts = normalizeOptions(opts)
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
			TLSHandshakeTimeout:   5 * time.Second,
		}
	}

	return &Client{
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		userAgent: opts.UserAgent,
	}, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "signplay"
	}
	return opts
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchPlaylist retrieves the content assigned to code. A paired device
// without content yields a response whose ToPlaylist is nil.
func (c *Client) FetchPlaylist(ctx context.Context, code string) (*PlaylistResponse, error) {
	var res PlaylistResponse
	if _, err := c.do(ctx, "fetch_playlist", http.MethodGet, playerPath(code, ""), "/player/{code}", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Heartbeat posts the liveness report.
func (c *Client) Heartbeat(ctx context.Context, code string, body HeartbeatRequest) error {
	_, err := c.do(ctx, "heartbeat", http.MethodPost, playerPath(code, "heartbeat"), "/player/{code}/heartbeat", body, nil)
	return err
}

// ReportPlaylistChange announces a newly installed playlist.
func (c *Client) ReportPlaylistChange(ctx context.Context, code string, body PlaylistChangeRequest) error {
	_, err := c.do(ctx, "playlist_change", http.MethodPost, playerPath(code, "playlist-change"), "/player/{code}/playlist-change", body, nil)
	return err
}

// ReportError forwards a player side failure.
func (c *Client) ReportError(ctx context.Context, code string, body ErrorReport) error {
	_, err := c.do(ctx, "report_error", http.MethodPost, playerPath(code, "error"), "/player/{code}/error", body, nil)
	return err
}

// Probe measures the round trip of HEAD /health.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	return c.do(ctx, "probe", http.MethodHead, "/health", "/health", nil, nil)
}

func playerPath(code, suffix string) string {
	p := "/player/" + url.PathEscape(code)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// do performs one request and decodes a JSON body into out when non-nil.
// It returns the request round trip time.
func (c *Client) do(ctx context.Context, op, method, path, route string, in, out any) (time.Duration, error) {
	tracer := telemetry.Tracer("signplay.playerapi")
	ctx, span := tracer.Start(ctx, "signplay.playerapi."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(telemetry.CallAttributes(xglog.DeviceCodeFromContext(ctx), route, 1)...)
	defer span.End()

	fail := func(err error) (time.Duration, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(err)
	}

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fail(fmt.Errorf("playerapi: %s: encode request: %w", op, err))
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fail(fmt.Errorf("playerapi: %s: build request: %w", op, err))
	}
	c.applyHeaders(ctx, req, in != nil)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	rtt := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.RecordAPIRequest(method, route, statusClass(err, status), rtt)
	span.SetAttributes(telemetry.HTTPAttributes(method, route, status)...)

	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(wrapError(op, err, 0, nil))
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if apiErr := wrapError(op, nil, status, body); apiErr != nil {
		return fail(apiErr)
	}
	if readErr != nil {
		return fail(wrapError(op, readErr, status, nil))
	}

	if out != nil && method != http.MethodHead {
		if err := json.Unmarshal(body, out); err != nil {
			return fail(&APIError{Sentinel: ErrBadResponse, Operation: op, Status: status, Err: err})
		}
	}
	span.SetStatus(codes.Ok, "")
	return rtt, nil
}

func (c *Client) applyHeaders(ctx context.Context, req *http.Request, hasBody bool) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	rid := xglog.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", rid)
}

func statusClass(err error, status int) string {
	if err != nil {
		return "error"
	}
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status > 0:
		return "1xx"
	}
	return "unknown"
}
