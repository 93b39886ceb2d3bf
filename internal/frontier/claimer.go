package frontier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

// Claimer wraps ClaimNext with bounded retry on transient store errors.
// After the retry budget is spent the batch is treated as empty so the
// controller can poll again later instead of failing the session.
type Claimer struct {
	store   crawler.FrontierStore
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// NewClaimer constructs a Claimer. retries is the number of re-attempts
// after the first failure; backoff grows linearly per attempt.
func NewClaimer(store crawler.FrontierStore, retries int, backoff time.Duration, logger *zap.Logger) *Claimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Claimer{store: store, retries: retries, backoff: backoff, logger: logger}
}

// Claim fetches up to batchSize tasks for the session, retrying transient
// store failures. Non-transient errors are returned immediately.
func (c *Claimer) Claim(ctx context.Context, sessionID string, maxDepth, batchSize int) ([]crawler.CrawlTask, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.backoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		tasks, err := c.store.ClaimNext(ctx, sessionID, maxDepth, batchSize)
		if err == nil {
			return tasks, nil
		}
		if !crawler.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("transient claim failure",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	c.logger.Warn("claim retries exhausted, treating batch as empty",
		zap.String("session_id", sessionID),
		zap.Error(lastErr),
	)
	return nil, nil
}
