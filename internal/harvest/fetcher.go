package harvest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// RetryFetcher wraps a backend Fetcher with per-attempt timeouts, bounded
// retries and optional rate limiting. Responses outside the 2xx range are
// treated as failed attempts.
type RetryFetcher struct {
	next           Fetcher
	policy         RetryPolicy
	limiter        Waiter
	attemptTimeout time.Duration
	backend        string
	logger         *zap.Logger
}

// RetryOption customizes a RetryFetcher.
type RetryOption func(*RetryFetcher)

// WithLimiter awaits limiter before every attempt.
func WithLimiter(limiter Waiter) RetryOption {
	return func(f *RetryFetcher) {
		f.limiter = limiter
	}
}

// WithAttemptTimeout bounds each attempt independently.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(f *RetryFetcher) {
		f.attemptTimeout = d
	}
}

// WithBackendName labels metrics emitted by the fetcher.
func WithBackendName(name string) RetryOption {
	return func(f *RetryFetcher) {
		f.backend = name
	}
}

// WithLogger sets the logger used for failed attempts.
func WithLogger(logger *zap.Logger) RetryOption {
	return func(f *RetryFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewRetryFetcher wraps next. A nil policy performs a single attempt.
func NewRetryFetcher(next Fetcher, policy RetryPolicy, opts ...RetryOption) *RetryFetcher {
	if policy == nil {
		policy = NewFixedRetryPolicy(1, 0)
	}
	f := &RetryFetcher{
		next:    next,
		policy:  policy,
		backend: "unknown",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves request.URL, retrying failed attempts according to the
// policy. The terminal failure is always a *NetworkError.
func (f *RetryFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, request)
		if err == nil {
			metrics.ObserveFetchAttempt(f.backend, "success")
			metrics.ObserveFetchBytes(request.URL, len(resp.Body))
			return resp, nil
		}
		metrics.ObserveFetchAttempt(f.backend, outcomeOf(err))
		f.logger.Warn("fetch attempt failed",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			return FetchResponse{}, &NetworkError{Target: request.URL, Attempts: attempt, Err: ctx.Err()}
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return FetchResponse{}, &NetworkError{Target: request.URL, Attempts: attempt, Err: err}
		}

		timer := time.NewTimer(f.policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return FetchResponse{}, &NetworkError{Target: request.URL, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (f *RetryFetcher) attempt(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return FetchResponse{}, err
		}
	}
	attemptCtx := ctx
	if f.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.attemptTimeout)
		defer cancel()
	}
	resp, err := f.next.Fetch(attemptCtx, request)
	if err != nil {
		return FetchResponse{}, err
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return FetchResponse{}, &StatusError{URL: request.URL, Code: resp.StatusCode}
	}
	return resp, nil
}

func outcomeOf(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
