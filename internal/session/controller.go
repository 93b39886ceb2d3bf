// Package session drives crawl sessions from seed to completion.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
)

// Claimer hands out batches of pending tasks.
type Claimer interface {
	Claim(ctx context.Context, sessionID string, maxDepth, batchSize int) ([]crawler.CrawlTask, error)
}

// BatchProcessor runs a batch of claimed tasks to their terminal statuses.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, session crawler.CrawlSession, tasks []crawler.CrawlTask)
}

// ControllerConfig controls the claim/settle loop.
type ControllerConfig struct {
	ClaimBatchSize int
	// PollInterval is the wait after an empty claim before polling again.
	PollInterval time.Duration
	// SettleChecks is how many consecutive empty observations are needed
	// before the session is declared drained.
	SettleChecks   int
	SettleInterval time.Duration
	// CompletionTopic, when set together with a publisher, receives a
	// session-completed notification.
	CompletionTopic string
}

// Controller runs one session to completion. Several controllers in separate
// processes may run the same session concurrently; every decision point
// re-reads the store, so whichever observes the drained frontier first wins
// the (idempotent) completion write.
type Controller struct {
	store     crawler.FrontierStore
	claimer   Claimer
	executor  BatchProcessor
	publisher crawler.Publisher
	clock     crawler.Clock
	emitter   progress.Emitter
	cfg       ControllerConfig
	logger    *zap.Logger
}

// NewController constructs a Controller.
func NewController(
	store crawler.FrontierStore,
	claimer Claimer,
	executor BatchProcessor,
	publisher crawler.Publisher,
	clock crawler.Clock,
	emitter progress.Emitter,
	cfg ControllerConfig,
	logger *zap.Logger,
) *Controller {
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SettleChecks <= 0 {
		cfg.SettleChecks = 3
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = time.Second
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		claimer:   claimer,
		executor:  executor,
		publisher: publisher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run drives the session until it completes or the context is canceled.
// Returning nil means the session reached the completed state, possibly
// written by another process.
func (c *Controller) Run(ctx context.Context, sessionID string) error {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.Status != crawler.SessionStatusRunning {
		return nil
	}

	c.emitter.Emit(progress.Event{
		SessionID: session.ID,
		TS:        c.clock.Now(),
		Stage:     progress.StageSessionStart,
		Host:      session.DomainScope,
		URL:       session.SeedURL,
	})
	c.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("seed", session.SeedURL),
		zap.Int("max_pages", session.MaxPages),
		zap.Int("max_depth", session.MaxDepth),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		session, err = c.store.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		if session.Status == crawler.SessionStatusCompleted {
			return nil
		}

		remaining := session.MaxPages - session.PagesCrawled
		if remaining <= 0 {
			return c.finish(ctx, session)
		}

		batch := c.cfg.ClaimBatchSize
		if batch > remaining {
			batch = remaining
		}
		tasks, err := c.claimer.Claim(ctx, sessionID, session.MaxDepth, batch)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}

		if len(tasks) > 0 {
			c.executor.ProcessBatch(ctx, session, tasks)
			continue
		}

		drained, err := c.settle(ctx, session)
		if err != nil {
			return err
		}
		if drained {
			return c.finish(ctx, session)
		}
		if err := c.wait(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// settle re-checks the frontier several times before declaring it drained.
// A claimed task held by any process can still enqueue children, so both
// pending and claimed must stay at zero across every check.
func (c *Controller) settle(ctx context.Context, session crawler.CrawlSession) (bool, error) {
	c.emitter.Emit(progress.Event{
		SessionID: session.ID,
		TS:        c.clock.Now(),
		Stage:     progress.StageSessionSettling,
	})
	for check := 0; check < c.cfg.SettleChecks; check++ {
		if check > 0 {
			if err := c.wait(ctx, c.cfg.SettleInterval); err != nil {
				return false, err
			}
		}
		pending, err := c.store.CountPending(ctx, session.ID)
		if err != nil {
			return false, fmt.Errorf("count pending: %w", err)
		}
		claimed, err := c.store.CountClaimed(ctx, session.ID)
		if err != nil {
			return false, fmt.Errorf("count claimed: %w", err)
		}
		if pending > 0 || claimed > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (c *Controller) finish(ctx context.Context, session crawler.CrawlSession) error {
	now := c.clock.Now()
	if err := c.store.CompleteSession(ctx, session.ID, now); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	final, err := c.store.GetSession(ctx, session.ID)
	if err != nil {
		final = session
	}
	failed, err := c.store.CountFailed(ctx, session.ID)
	if err != nil {
		c.logger.Warn("count failed tasks", zap.String("session_id", session.ID), zap.Error(err))
	}

	c.emitter.Emit(progress.Event{
		SessionID: session.ID,
		TS:        now,
		Stage:     progress.StageSessionDone,
		Host:      session.DomainScope,
		Count:     final.PagesCrawled,
		Dur:       now.Sub(session.CreatedAt),
	})
	c.logger.Info("session completed",
		zap.String("session_id", session.ID),
		zap.Int("pages_crawled", final.PagesCrawled),
		zap.Int("failed_tasks", failed),
	)

	return c.publishCompletion(ctx, final, failed, now)
}

func (c *Controller) publishCompletion(ctx context.Context, session crawler.CrawlSession, failed int, at time.Time) error {
	if c.publisher == nil || c.cfg.CompletionTopic == "" {
		return nil
	}
	payload := map[string]any{
		"session_id":    session.ID,
		"project_id":    session.ProjectID,
		"domain":        session.DomainScope,
		"pages_crawled": session.PagesCrawled,
		"failed_tasks":  failed,
		"status":        string(crawler.SessionStatusCompleted),
		"completed_at":  at.Format(time.RFC3339),
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.CompletionTopic, payload); err != nil {
		// The session is already completed durably; notification loss is
		// logged, not fatal.
		c.logger.Warn("publish session completion failed",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	return nil
}

func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
