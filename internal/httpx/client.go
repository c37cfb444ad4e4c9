// Package httpx provides the shared outbound HTTP client used by the
// Webmention Engine and WebSub Hub: a bounded per-call timeout and a
// rate-limited transport, per SPEC_FULL.md sections 5 and 11.
package httpx

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout is the bounded timeout applied to every outbound call on
// the critical path (section 5: "design default: 30s per call").
const DefaultTimeout = 30 * time.Second

// rateLimitedTransport wraps an http.RoundTripper with a token bucket so
// a large Trusted Domain set or subscriber list cannot open unbounded
// concurrent connections to third-party hosts from a single vouch crawl
// or publish fanout (section 11).
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return t.base.RoundTrip(req)
}

// NewClient returns an *http.Client with DefaultTimeout and a transport
// limited to requestsPerSecond, bursting up to burst.
func NewClient(requestsPerSecond float64, burst int) *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
		Transport: &rateLimitedTransport{
			base:    http.DefaultTransport,
			limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		},
	}
}

// WithRetries wraps client's transport with N blind transport-level
// retries on network error, matching the WebSub delivery client's
// documented retry count (section 4.5 step 4: "the HTTP client is
// configured with N (default 3) transport-level retries").
func WithRetries(client *http.Client, retries int) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *client
	c.Transport = &retryingTransport{base: base, retries: retries}
	return &c
}

type retryingTransport struct {
	base    http.RoundTripper
	retries int
}

func (t *retryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		resp, err := t.base.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
