package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "allow2-go"
	maxBodyBytes     = 4 << 20
)

// HTTP sends requests with net/http, throttled by a token bucket.
type HTTP struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	tracer    trace.Tracer
}

// Option configures HTTP.
type Option func(*HTTP)

// WithTimeout sets the per-request timeout enforced by the client.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests at rpm per minute with the given burst.
// rpm <= 0 disables throttling.
func WithRateLimit(rpm, burst int) Option {
	return func(h *HTTP) {
		if rpm <= 0 {
			h.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 5
		}
		h.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(h *HTTP) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying client (tests, custom TLS).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTP returns an HTTP transport.
func NewHTTP(opts ...Option) *HTTP {
	h := &HTTP{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		tracer:    otel.Tracer("github.com/nextlevelbuilder/allow2/internal/transport"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send performs the request. Non-2xx statuses are returned as responses, not errors.
func (h *HTTP) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, span := h.tracer.Start(ctx, "allow2 "+req.Method+" "+pathOf(req.URL),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("server.address", hostOf(req.URL)),
			attribute.String("url.path", pathOf(req.URL)),
		))
	defer span.End()

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "rate limiter")
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", h.userAgent)
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		slog.Debug("transport: request failed", "method", req.Method, "path", pathOf(req.URL), "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("read response: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}
	slog.Debug("transport: request done",
		"method", req.Method,
		"path", pathOf(req.URL),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// pathOf drops scheme, host and query. Paths deeper than two segments carry
// device credentials (genqr) and are cut to their first segment.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) > 2 {
		return "/" + segs[0]
	}
	return u.Path
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
