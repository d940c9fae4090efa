// Package httpretry provides an HTTP client with automatic retry logic for
// resilient external API calls: exponential backoff with jitter for transient
// server errors, and Retry-After-driven waits for rate limiting.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/signals-agent/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic.
//
// Transient failures (network errors, 500/502/503/504) are retried with
// exponential backoff and full jitter, up to maxRetries attempts. Rate-limit
// responses (429) are handled separately: the client sleeps for the duration
// the server requests via Retry-After (or a default when absent) and repeats
// the identical request, drawing on its own larger allowance so a slow but
// cooperative server does not exhaust the transient budget.
type RetryClient struct {
	client            HTTPDoer
	maxRetries        int
	maxRateLimitWaits int
	baseDelay         time.Duration
	maxDelay          time.Duration
	defaultRetryAfter time.Duration
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the transient-failure retry budget (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:            client,
		maxRetries:        maxRetries,
		maxRateLimitWaits: 10,
		baseDelay:         1 * time.Second,
		maxDelay:          30 * time.Second,
		defaultRetryAfter: 30 * time.Second,
	}
}

// Do executes the HTTP request with retry logic. Client errors other than 429
// (400, 401, 403, 404, ...) are returned immediately so the caller can react,
// e.g. by re-authenticating on 401. On budget exhaustion the last response is
// returned as-is so the caller can inspect status and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	transientAttempts := 0
	rateLimitWaits := 0

	for {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		// Reset request body when re-issuing a request that carried one.
		if (transientAttempts > 0 || rateLimitWaits > 0) && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
			}
			req.Body = body
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			transientAttempts++
			if transientAttempts > rc.maxRetries {
				return nil, fmt.Errorf("httpretry: exhausted %d retries: %w", rc.maxRetries, lastErr)
			}
			if !rc.sleep(req, rc.backoffDelay(transientAttempts)) {
				return nil, lastErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			rateLimitWaits++
			if rateLimitWaits > rc.maxRateLimitWaits {
				return resp, nil
			}
			wait := retryAfterDelay(resp, rc.defaultRetryAfter)
			drain(resp)
			logger.Warn("rate limited, suspending before retrying same request",
				"host", req.URL.Host, "path", req.URL.Path, "wait", wait.String(),
				"waits", rateLimitWaits)
			if !rc.sleep(req, wait) {
				return nil, req.Context().Err()
			}

		case isTransientStatus(resp.StatusCode):
			transientAttempts++
			if transientAttempts > rc.maxRetries {
				return resp, nil
			}
			drain(resp)
			lastErr = fmt.Errorf("httpretry: server returned transient status %d", resp.StatusCode)
			delay := rc.backoffDelay(transientAttempts)
			logger.Debug("transient server error, retrying",
				"status", resp.StatusCode, "attempt", transientAttempts,
				"max", rc.maxRetries, "wait", delay.String())
			if !rc.sleep(req, delay) {
				return nil, lastErr
			}

		default:
			// Success or a client error the caller must handle.
			return resp, nil
		}
	}
}

// sleep waits for d or until the request context is done.
// Returns false if the context fired first.
func (rc *RetryClient) sleep(req *http.Request, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-req.Context().Done():
		return false
	}
}

// backoffDelay returns the exponential-backoff-with-full-jitter delay for the
// given attempt: random(0, min(maxDelay, baseDelay * 2^(attempt-1))), floored
// at 100ms to avoid busy-looping.
func (rc *RetryClient) backoffDelay(attempt int) time.Duration {
	expDelay := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.maxDelay) {
		expDelay = float64(rc.maxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

// retryAfterDelay parses the Retry-After header as delta-seconds or an HTTP
// date. Falls back to def when the header is absent or unparseable.
func retryAfterDelay(resp *http.Response, def time.Duration) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return def
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return def
}

// drain consumes and closes the response body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// isTransientStatus reports whether the status code indicates a server-side
// error worth retrying. 429 is handled separately via Retry-After.
func isTransientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
