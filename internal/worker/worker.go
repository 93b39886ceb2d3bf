// Package worker implements the per-task fetch/extract/persist pipeline.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
)

// Config controls Executor behavior.
type Config struct {
	// Concurrency bounds the number of tasks in flight at once.
	Concurrency int
	ContentType string
	BlobPrefix  string
	UserAgent   string
	// Headless enables rendered re-fetches when the detector fires.
	Headless bool
}

// Enqueuer feeds discovered links back into the frontier.
type Enqueuer interface {
	Enqueue(ctx context.Context, session crawler.CrawlSession, sourceURL string, sourceDepth int, candidates []string) (int, error)
}

// Executor runs claimed tasks through fetch, extraction, persistence and
// link enqueueing. Every task it receives reaches exactly one terminal
// status; the session counter is bumped for each so the controller can
// track the page budget across processes.
type Executor struct {
	store           crawler.FrontierStore
	blobStore       crawler.BlobStore
	hasher          crawler.Hasher
	clock           crawler.Clock
	probeFetcher    crawler.Fetcher
	headlessFetcher crawler.Fetcher
	detector        crawler.HeadlessDetector
	extractor       crawler.Extractor
	enqueuer        Enqueuer
	emitter         progress.Emitter
	cfg             Config
	sem             *semaphore.Weighted
	logger          *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(
	store crawler.FrontierStore,
	blobStore crawler.BlobStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	probe crawler.Fetcher,
	headless crawler.Fetcher,
	detector crawler.HeadlessDetector,
	extractor crawler.Extractor,
	enqueuer Enqueuer,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:           store,
		blobStore:       blobStore,
		hasher:          hasher,
		clock:           clock,
		probeFetcher:    probe,
		headlessFetcher: headless,
		detector:        detector,
		extractor:       extractor,
		enqueuer:        enqueuer,
		emitter:         emitter,
		cfg:             cfg,
		sem:             semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:          logger,
	}
}

// ProcessBatch runs the claimed tasks, at most cfg.Concurrency at a time,
// and returns when every task in the batch has reached a terminal status.
func (e *Executor) ProcessBatch(ctx context.Context, session crawler.CrawlSession, tasks []crawler.CrawlTask) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(task crawler.CrawlTask) {
			defer wg.Done()
			defer e.sem.Release(1)
			e.process(ctx, session, task)
		}(task)
	}
	wg.Wait()
}

func (e *Executor) process(ctx context.Context, session crawler.CrawlSession, task crawler.CrawlTask) {
	resp, err := e.fetch(ctx, task)
	if err != nil {
		e.failTask(ctx, session, task, fmt.Sprintf("fetch: %v", err), progress.StatusOther)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.failTask(ctx, session, task,
			fmt.Sprintf("unexpected status %d", resp.StatusCode),
			progress.ClassifyStatus(resp.StatusCode))
		return
	}

	ext, err := e.extractor.Extract(resp.Body, task.URL)
	if err != nil {
		e.failTask(ctx, session, task, fmt.Sprintf("extract: %v", err), progress.ClassifyStatus(resp.StatusCode))
		return
	}

	// Persist and enqueue run concurrently; both must land before the
	// task goes terminal so a crash re-runs the whole task.
	var enqueued int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.persistPage(gctx, session, task, resp, ext)
	})
	g.Go(func() error {
		n, err := e.enqueuer.Enqueue(gctx, session, task.URL, task.Depth, ext.Candidates)
		if err != nil {
			return fmt.Errorf("enqueue links: %w", err)
		}
		enqueued = n
		return nil
	})
	if err := g.Wait(); err != nil {
		e.failTask(ctx, session, task, err.Error(), progress.ClassifyStatus(resp.StatusCode))
		return
	}

	now := e.clock.Now()
	if err := e.store.MarkTerminal(ctx, task.ID, crawler.TaskStatusCompleted, "", now); err != nil {
		e.logger.Error("mark task completed failed",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if _, err := e.store.IncrementPagesCrawled(ctx, session.ID, 1); err != nil {
		e.logger.Error("increment pages crawled failed",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	e.emitter.Emit(progress.Event{
		SessionID:   session.ID,
		TaskID:      task.ID,
		TS:          now,
		Stage:       progress.StagePageDone,
		Host:        crawler.Hostname(task.URL),
		URL:         task.URL,
		Depth:       task.Depth,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
	if enqueued > 0 {
		e.emitter.Emit(progress.Event{
			SessionID: session.ID,
			TaskID:    task.ID,
			TS:        now,
			Stage:     progress.StageLinksEnqueued,
			Count:     enqueued,
		})
	}
	e.logger.Debug("page processed",
		zap.String("session_id", session.ID),
		zap.String("url", task.URL),
		zap.Int("depth", task.Depth),
		zap.Int("enqueued", enqueued),
	)
}

func (e *Executor) fetch(ctx context.Context, task crawler.CrawlTask) (crawler.FetchResponse, error) {
	req := crawler.FetchRequest{URL: task.URL}
	if e.cfg.UserAgent != "" {
		req.Headers = map[string][]string{"User-Agent": {e.cfg.UserAgent}}
	}

	resp, err := e.probeFetcher.Fetch(ctx, req)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	if promoted, ok := e.maybePromote(ctx, req, resp); ok {
		return promoted, nil
	}
	return resp, nil
}

func (e *Executor) maybePromote(ctx context.Context, req crawler.FetchRequest, resp crawler.FetchResponse) (crawler.FetchResponse, bool) {
	if !e.cfg.Headless || e.detector == nil || e.headlessFetcher == nil {
		return resp, false
	}
	if !e.detector.ShouldPromote(resp) {
		return resp, false
	}
	rendered, err := e.headlessFetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.Warn("headless promotion failed",
			zap.String("url", req.URL), zap.Error(err))
		return resp, false
	}
	rendered.UsedHeadless = true
	return rendered, true
}

func (e *Executor) persistPage(
	ctx context.Context,
	session crawler.CrawlSession,
	task crawler.CrawlTask,
	resp crawler.FetchResponse,
	ext crawler.Extraction,
) error {
	hash, err := e.hasher.Hash(resp.Body)
	if err != nil {
		return fmt.Errorf("hash body: %w", err)
	}

	var uri string
	if e.blobStore != nil {
		uri, err = e.blobStore.PutObject(ctx, e.blobPath(session.ID, hash), e.cfg.ContentType, resp.Body)
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
	}

	page := crawler.PageRecord{
		SessionID:            session.ID,
		ProjectID:            session.ProjectID,
		NormalizedKey:        task.NormalizedKey,
		URL:                  task.URL,
		Depth:                task.Depth,
		StatusCode:           resp.StatusCode,
		Title:                ext.Title,
		MetaDescription:      ext.MetaDescription,
		H1Text:               ext.H1Text,
		HasH1:                ext.HasH1,
		WordCount:            ext.WordCount,
		PageType:             ext.PageType,
		HealthScore:          ext.HealthScore,
		InternalLinks:        ext.InternalLinks,
		ExternalLinks:        ext.ExternalLinks,
		ContentInternalLinks: ext.ContentInternalLinks,
		ContentHash:          hash,
		BlobURI:              uri,
		Headings:             ext.Headings,
		Paragraphs:           ext.Paragraphs,
		Links:                ext.Links,
		FetchedAt:            e.clock.Now(),
		DurationMs:           resp.Duration.Milliseconds(),
	}
	if err := e.store.UpsertPage(ctx, page); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

func (e *Executor) failTask(
	ctx context.Context,
	session crawler.CrawlSession,
	task crawler.CrawlTask,
	errText string,
	statusClass progress.StatusClass,
) {
	now := e.clock.Now()
	if err := e.store.MarkTerminal(ctx, task.ID, crawler.TaskStatusFailed, errText, now); err != nil {
		e.logger.Error("mark task failed errored",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if _, err := e.store.IncrementPagesCrawled(ctx, session.ID, 1); err != nil {
		e.logger.Error("increment pages crawled failed",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	e.emitter.Emit(progress.Event{
		SessionID:   session.ID,
		TaskID:      task.ID,
		TS:          now,
		Stage:       progress.StagePageFailed,
		Host:        crawler.Hostname(task.URL),
		URL:         task.URL,
		Depth:       task.Depth,
		StatusClass: statusClass,
		Note:        errText,
	})
	e.logger.Warn("page failed",
		zap.String("session_id", session.ID),
		zap.String("url", task.URL),
		zap.String("reason", errText),
	)
}

func (e *Executor) blobPath(sessionID, hash string) string {
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", sessionID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, sessionID, hash)
}
