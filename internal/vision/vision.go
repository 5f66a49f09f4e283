package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured = errors.New("ai provider is not configured")
	ErrOverloaded    = errors.New("ai provider is overloaded")
	ErrEmptyResponse = errors.New("ai provider returned no text")
)

// Analyzer turns a question screenshot into the provider's raw text answer.
// The text is expected, not guaranteed, to be the JSON analysis object.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, body)
}

// RetryPolicy retries overload-class failures with exponential backoff:
// BaseDelay, 2*BaseDelay, 4*BaseDelay...
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

type caller struct {
	provider string
	retry    RetryPolicy
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func newCaller(provider string, retry RetryPolicy, perMinute int, logger *slog.Logger) caller {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(1, perMinute/10))
	}
	return caller{provider: provider, retry: retry, limiter: limiter, logger: logger}
}

// doWithRetry runs fn, retrying only while the failure looks like provider
// overload. Exhausted retries surface as ErrOverloaded.
func (c caller) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return fmt.Errorf("%s: %w", c.provider, err)
		}
		lastErr = err
		if attempt == c.retry.MaxAttempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * c.retry.BaseDelay
		c.logger.Warn("ai provider overloaded, retrying",
			"provider", c.provider,
			"attempt", attempt+1,
			"wait", wait,
			"error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrOverloaded, c.provider, lastErr)
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 503 || se.Code == 429
	}
	if code, ok := openAIStatus(err); ok {
		return code == 503 || code == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "unavailable")
}
