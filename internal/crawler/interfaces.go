package crawler

import (
	"context"
	"time"
)

// FrontierStore is the durable source of truth for sessions, tasks, and
// pages. Every worker decision re-reads or atomically mutates the store;
// nothing is cached across polls because several worker processes may be
// operating on the same session.
type FrontierStore interface {
	CreateSession(ctx context.Context, session CrawlSession) error
	GetSession(ctx context.Context, sessionID string) (CrawlSession, error)
	ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]CrawlSession, error)

	// ClaimNext atomically transitions up to batchSize pending tasks to
	// claimed and returns them, lowest depth first, FIFO within a depth.
	// Two concurrent callers never receive the same task. An empty result
	// means the queue is momentarily drained, not an error.
	ClaimNext(ctx context.Context, sessionID string, maxDepth, batchSize int) ([]CrawlTask, error)

	// InsertTasks bulk-inserts pending tasks, silently skipping rows that
	// collide on (session_id, normalized_key). Returns the inserted count.
	InsertTasks(ctx context.Context, sessionID string, tasks []TaskInput) (int, error)

	// ExistingKeys reports which of the given normalized keys are already
	// known for the session. Best-effort pre-filter; the uniqueness
	// constraint behind InsertTasks is the correctness backstop.
	ExistingKeys(ctx context.Context, sessionID string, keys []string) (map[string]struct{}, error)

	// MarkTerminal writes the single terminal status for a claimed task.
	MarkTerminal(ctx context.Context, taskID string, status TaskStatus, errText string, at time.Time) error

	// UpsertPage persists a page record keyed by (session_id,
	// normalized_key); a second call with the same key wins.
	UpsertPage(ctx context.Context, page PageRecord) error

	// IncrementPagesCrawled atomically bumps the session counter and
	// returns the new value.
	IncrementPagesCrawled(ctx context.Context, sessionID string, delta int) (int, error)

	// CompleteSession transitions a running session to completed; calling
	// it again is a no-op.
	CompleteSession(ctx context.Context, sessionID string, at time.Time) error

	CountPending(ctx context.Context, sessionID string) (int, error)
	CountClaimed(ctx context.Context, sessionID string) (int, error)
	CountTasks(ctx context.Context, sessionID string) (int, error)
	CountFailed(ctx context.Context, sessionID string) (int, error)

	ListPages(ctx context.Context, sessionID string) ([]PageRecord, error)

	// ReclaimStale returns claimed tasks whose last update is older than
	// staleAfter to pending, or fails them once attempts reaches
	// maxAttempts. Returns the number of tasks touched.
	ReclaimStale(ctx context.Context, staleAfter time.Duration, maxAttempts int, at time.Time) (int, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns fetched bytes into a structured page plus candidate links.
// Implementations parse best-effort: malformed HTML yields empty results,
// never a panic.
type Extractor interface {
	Extract(body []byte, sourceURL string) (Extraction, error)
}

// HeadlessDetector decides whether a probe response warrants a rendered
// re-fetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session/task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
