package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/metrics"
	"github.com/Checker-Finance/checks-optimizer/internal/rate"
)

const maxBackoff = 30 * time.Second

// ErrRetriesExhausted wraps the last failure once every attempt has been used.
var ErrRetriesExhausted = errors.New("retries exhausted")

// StatusError is the default error for a non-retryable 4xx response.
type StatusError struct {
	Venue  string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Venue, e.Status)
}

// Backoff returns base * 2^attempt, capped at 30s.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h string, now time.Time) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
// 5xx, 429 and transport failures are retried; other 4xx answers are returned at once.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	backoffBase  time.Duration
	venueTag     string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses to produce a
// venue-specific error. If nil, a *StatusError is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	backoffBase time.Duration,
	venueTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if retryMax < 0 {
		retryMax = 0
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		backoffBase:  backoffBase,
		venueTag:     venueTag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the response into out.
// rateLimitKey scopes the rate limiter, e.g. one key per collection.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	attempts := e.retryMax + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.wait(lastErr, attempt-1)); err != nil {
				return fmt.Errorf("%s request aborted: %w", e.venueTag, err)
			}
		}
		if e.rateMgr != nil {
			if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		attemptReq, err := e.prepare(ctx, req)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := e.http.Do(attemptReq)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s request aborted: %w", e.venueTag, ctx.Err())
			}
			lastErr = err
			metrics.IncListingRequest(e.venueTag, 0)
			e.logger.Warn(e.venueTag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)
		metrics.IncListingRequest(e.venueTag, resp.StatusCode)
		metrics.ObserveDuration(metrics.ListingRequestDuration, start, e.venueTag)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header.Get("Retry-After"), time.Now())
			if e.rateMgr != nil {
				e.rateMgr.Block(rateLimitKey, wait)
			}
			e.logger.Warn(e.venueTag+".rate_limited",
				zap.String("url", req.URL.String()),
				zap.Duration("retry_after", wait),
				zap.Int("attempt", attempt))
			lastErr = &retryableError{status: resp.StatusCode, after: wait, venue: e.venueTag}
			continue

		case resp.StatusCode >= 500:
			e.logger.Warn(e.venueTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed),
				zap.Int("attempt", attempt))
			lastErr = &retryableError{status: resp.StatusCode, venue: e.venueTag}
			continue

		case resp.StatusCode >= 400:
			if e.errorHandler != nil {
				return e.errorHandler(resp.StatusCode, body)
			}
			return &StatusError{Venue: e.venueTag, Status: resp.StatusCode, Body: body}
		}

		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.venueTag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.Int("body_bytes", len(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.venueTag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w: %w", e.venueTag, attempts, ErrRetriesExhausted, lastErr)
}

// prepare clones req for one attempt, rewinding the body when the request supports it.
func (e *Executor) prepare(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

func (e *Executor) wait(lastErr error, attempt int) time.Duration {
	var re *retryableError
	if errors.As(lastErr, &re) && re.after > 0 {
		return re.after
	}
	return Backoff(e.backoffBase, attempt)
}

type retryableError struct {
	venue  string
	status int
	after  time.Duration
}

func (e *retryableError) Error() string {
	if e.status == http.StatusTooManyRequests {
		return fmt.Sprintf("%s rate limited: %d", e.venue, e.status)
	}
	return fmt.Sprintf("%s server error: %d", e.venue, e.status)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
