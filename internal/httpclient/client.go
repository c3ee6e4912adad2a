// Package httpclient provides an HTTP client with exponential backoff and
// full jitter retries, used by outbound notification channels.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a single request including retries.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts is the total number of tries per request.
	DefaultMaxAttempts = 3

	// DefaultBackoff seeds the exponential backoff.
	DefaultBackoff = time.Second

	maxBackoff   = 30 * time.Second
	maxBodySize  = 1 << 20
	maxDrainSize = 1 << 20
)

// ErrRequestBodyTooLarge is returned when a request body cannot be buffered
// for replay.
var ErrRequestBodyTooLarge = errors.New("httpclient: request body too large to retry")

// RetryPolicy decides whether a request should be retried. It receives the
// transport error (if any) and the response (if any).
type RetryPolicy func(err error, resp *http.Response) bool

// DefaultRetryPolicy retries network errors and 5xx responses. Context
// cancellation and 4xx responses are never retried.
var DefaultRetryPolicy RetryPolicy = func(err error, resp *http.Response) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// Client is an http.Client whose transport replays failed requests.
type Client struct {
	http *http.Client
}

// Option configures the Client.
type Option func(*retryTransport, *http.Client)

// WithTimeout bounds the total request duration.
func WithTimeout(timeout time.Duration) Option {
	return func(_ *retryTransport, c *http.Client) { c.Timeout = timeout }
}

// WithMaxAttempts sets the total tries per request.
func WithMaxAttempts(n int) Option {
	return func(t *retryTransport, _ *http.Client) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithBackoff sets the base backoff between attempts.
func WithBackoff(d time.Duration) Option {
	return func(t *retryTransport, _ *http.Client) {
		if d > 0 {
			t.backoff = d
		}
	}
}

// WithRetryPolicy overrides the retry decision.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(t *retryTransport, _ *http.Client) { t.policy = policy }
}

// New creates a retrying client.
func New(opts ...Option) *Client {
	transport := &retryTransport{
		base:        http.DefaultTransport,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		policy:      DefaultRetryPolicy,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	client := &http.Client{Timeout: DefaultTimeout, Transport: transport}

	for _, opt := range opts {
		opt(transport, client)
	}

	return &Client{http: client}
}

// Do executes the request through the retrying transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// PostJSON marshals the payload and posts it, returning an error on any
// non-2xx status.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("httpclient: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: post %s: %w", url, err)
	}
	defer func() {
		_, _ = io.CopyN(io.Discard, resp.Body, maxDrainSize)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("httpclient: post %s: unexpected status %d", url, resp.StatusCode)
	}

	return nil
}

// retryTransport replays requests per the retry policy. Request bodies are
// buffered so each attempt starts from a fresh reader, and response bodies
// are drained before a retry to keep connections reusable.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	backoff     time.Duration
	policy      RetryPolicy
	rng         *rand.Rand
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bodyBytes, err := t.bufferBody(req)
	if err != nil {
		return nil, err
	}

	attempt := 1
	for {
		attemptReq := req
		if bodyBytes != nil {
			attemptReq = cloneRequest(req, bodyBytes)
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if !t.policy(err, resp) {
			return resp, err
		}

		if attempt >= t.maxAttempts {
			return resp, err
		}

		drainBody(resp)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !sleepWithContext(ctx, t.jitteredBackoff(attempt)) {
			return nil, ctx.Err()
		}

		attempt++
	}
}

// jitteredBackoff is exponential backoff with full jitter:
// random(0, min(maxBackoff, backoff * 2^(attempt-1))).
func (t *retryTransport) jitteredBackoff(attempt int) time.Duration {
	exponential := t.backoff * (1 << (attempt - 1))
	if exponential > maxBackoff || exponential <= 0 {
		exponential = maxBackoff
	}
	return time.Duration(t.rng.Int63n(int64(exponential)))
}

func (t *retryTransport) bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("httpclient: buffer body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, ErrRequestBodyTooLarge
	}
	return body, nil
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	cloned := *req
	cloned.Body = io.NopCloser(bytes.NewReader(body))
	cloned.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return &cloned
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainSize)
	_ = resp.Body.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
