package acquire

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/logctx"
)

// RetryingFetcher retries transient fetch failures with exponential backoff.
// NotFound is final and never retried.
type RetryingFetcher struct {
	next            ContentFetcher
	maxAttempts     uint
	initialInterval time.Duration
}

// NewRetryingFetcher wraps next. maxAttempts counts the first call.
func NewRetryingFetcher(next ContentFetcher, maxAttempts int, initialInterval time.Duration) *RetryingFetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &RetryingFetcher{
		next:            next,
		maxAttempts:     uint(maxAttempts),
		initialInterval: initialInterval,
	}
}

// Fetch implements ContentFetcher.
func (f *RetryingFetcher) Fetch(ctx context.Context, id content.ID) ([]byte, error) {
	if f.maxAttempts == 1 {
		return f.next.Fetch(ctx, id)
	}

	logger := logctx.LoggerFromContext(ctx).With("content_id", id.String())

	b := backoff.NewExponentialBackOff()
	if f.initialInterval > 0 {
		b.InitialInterval = f.initialInterval
	}

	attempt := 0

	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++

		data, err := f.next.Fetch(ctx, id)
		if err == nil {
			return data, nil
		}

		if IsNotFound(err) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}

		logger.DebugContext(ctx, "fetch attempt failed", "attempt", attempt, "max_attempts", f.maxAttempts, "err", err)

		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(f.maxAttempts))
}
