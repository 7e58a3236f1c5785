package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client is a wrapper for HTTP client with rate limiting and retries.
// Permanent upstream errors (4xx other than 429) surrender immediately;
// transient ones (network, 429, 5xx) are retried with jittered exponential
// backoff. Cancellation is honored between attempts, not mid-request.
type Client struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter

	maxAttempts     uint64
	initialInterval time.Duration
}

// ClientOptions holds options for creating a new Client
type ClientOptions struct {
	Timeout         time.Duration
	RequestsPerSec  int
	MaxAttempts     int
	InitialInterval time.Duration
}

// NewClient creates a new HTTP client with rate limiting
func NewClient(opts ClientOptions) *Client {
	// Set default values if not provided
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
		Limiter:         rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		maxAttempts:     uint64(opts.MaxAttempts),
		initialInterval: opts.InitialInterval,
	}
}

// UpdateBudget adjusts the token bucket to a provider-declared budget taken
// from rate-limit response headers.
func (c *Client) UpdateBudget(requestsPerMinute int) {
	if requestsPerMinute <= 0 {
		return
	}
	c.Limiter.SetLimit(rate.Limit(float64(requestsPerMinute) / 60.0))
}

// DoRequest performs an HTTP request with rate limiting and retries. The
// request must carry a context; its body, if any, must be rewindable via
// req.GetBody. Callers own resp.Body.
func (c *Client) DoRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Wait for rate limiter
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attemptReq := req
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			clone := req.Clone(ctx)
			clone.Body = body
			attemptReq = clone
		}

		var err error
		resp, err = c.HTTPClient.Do(attemptReq)
		if err != nil {
			return err // network errors are retryable
		}
		if resp.StatusCode == http.StatusOK {
			c.adoptRateHeaders(resp)
			return nil
		}

		statusErr := &StatusError{StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp)}
		resp.Body.Close()
		if statusErr.Transient() {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.initialInterval
	strategy.Multiplier = 2
	strategy.RandomizationFactor = 1 // full jitter
	strategy.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(strategy, c.maxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return resp, nil
}

// adoptRateHeaders picks up a provider-declared request budget when present
func (c *Client) adoptRateHeaders(resp *http.Response) {
	for _, header := range []string{"X-RateLimit-Limit", "X-Requests-Available-Minute"} {
		if v := resp.Header.Get(header); v != "" {
			if budget, err := strconv.Atoi(v); err == nil {
				c.UpdateBudget(budget)
				return
			}
		}
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// StatusError represents an error due to a non-200 HTTP status code
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// Transient reports whether retrying could help: 429 and 5xx are transient,
// any other 4xx is a configuration problem and retrying is pointless.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies an error for retry purposes. Plain network errors
// count as transient.
func IsTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return err != nil
}

// IsRateLimited reports whether the error was an upstream 429
func IsRateLimited(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}
