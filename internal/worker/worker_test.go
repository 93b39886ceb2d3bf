package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/hash/sha256"
)

type recordingStore struct {
	crawler.FrontierStore

	mu        sync.Mutex
	terminal  map[string]crawler.TaskStatus
	errTexts  map[string]string
	pages     []crawler.PageRecord
	increment int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		terminal: make(map[string]crawler.TaskStatus),
		errTexts: make(map[string]string),
	}
}

func (s *recordingStore) MarkTerminal(_ context.Context, taskID string, status crawler.TaskStatus, errText string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal[taskID] = status
	s.errTexts[taskID] = errText
	return nil
}

func (s *recordingStore) UpsertPage(_ context.Context, page crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
	return nil
}

func (s *recordingStore) IncrementPagesCrawled(_ context.Context, _ string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increment += delta
	return s.increment, nil
}

type stubFetcher struct {
	resp     crawler.FetchResponse
	err      error
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	resp := f.resp
	resp.URL = req.URL
	return resp, nil
}

type stubEnqueuer struct {
	mu         sync.Mutex
	candidates [][]string
	n          int
	err        error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, _ crawler.CrawlSession, _ string, _ int, candidates []string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return 0, e.err
	}
	e.candidates = append(e.candidates, candidates)
	return e.n, nil
}

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlob) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[path] = data
	return "mem://" + path, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubExtractor struct {
	ext crawler.Extraction
	err error
}

func (x stubExtractor) Extract(_ []byte, _ string) (crawler.Extraction, error) {
	return x.ext, x.err
}

func newTestExecutor(store *recordingStore, fetcher crawler.Fetcher, extractor crawler.Extractor, enq Enqueuer, cfg Config) *Executor {
	return NewExecutor(
		store,
		&memBlob{},
		sha256.New(),
		fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		fetcher,
		nil,
		nil,
		extractor,
		enq,
		nil,
		cfg,
		zap.NewNop(),
	)
}

func testTask(id string) crawler.CrawlTask {
	return crawler.CrawlTask{
		ID:            id,
		SessionID:     "sess-1",
		URL:           "https://ex.com/" + id,
		NormalizedKey: "https://ex.com/" + id,
		Depth:         1,
		Status:        crawler.TaskStatusClaimed,
	}
}

func TestProcessBatchCompletesTask(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fetcher := &stubFetcher{resp: crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte("<html><body>ok</body></html>"),
		Duration:   42 * time.Millisecond,
	}}
	enq := &stubEnqueuer{n: 2}
	extractor := stubExtractor{ext: crawler.Extraction{
		Title:      "Page",
		Candidates: []string{"/a", "/b"},
	}}
	exec := newTestExecutor(store, fetcher, extractor, enq, Config{Concurrency: 2})

	session := crawler.CrawlSession{ID: "sess-1", MaxPages: 10, MaxDepth: 3}
	exec.ProcessBatch(context.Background(), session, []crawler.CrawlTask{testTask("t1")})

	require.Equal(t, crawler.TaskStatusCompleted, store.terminal["t1"])
	require.Equal(t, 1, store.increment)
	require.Len(t, store.pages, 1)
	require.Equal(t, "Page", store.pages[0].Title)
	require.NotEmpty(t, store.pages[0].ContentHash)
	require.NotEmpty(t, store.pages[0].BlobURI)
	require.Len(t, enq.candidates, 1)
	require.Equal(t, []string{"/a", "/b"}, enq.candidates[0])
}

func TestProcessBatchFailsOnFetchError(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	exec := newTestExecutor(store, fetcher, stubExtractor{}, &stubEnqueuer{}, Config{Concurrency: 1})

	exec.ProcessBatch(context.Background(), crawler.CrawlSession{ID: "sess-1"}, []crawler.CrawlTask{testTask("t1")})

	require.Equal(t, crawler.TaskStatusFailed, store.terminal["t1"])
	require.Contains(t, store.errTexts["t1"], "fetch")
	require.Equal(t, 1, store.increment)
	require.Empty(t, store.pages)
}

func TestProcessBatchFailsOnNon2xx(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fetcher := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 404, Body: []byte("gone")}}
	exec := newTestExecutor(store, fetcher, stubExtractor{}, &stubEnqueuer{}, Config{Concurrency: 1})

	exec.ProcessBatch(context.Background(), crawler.CrawlSession{ID: "sess-1"}, []crawler.CrawlTask{testTask("t1")})

	require.Equal(t, crawler.TaskStatusFailed, store.terminal["t1"])
	require.Contains(t, store.errTexts["t1"], "unexpected status 404")
	require.Empty(t, store.pages)
}

func TestProcessBatchFailsWhenEnqueueFails(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fetcher := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 200, Body: []byte("<html></html>")}}
	enq := &stubEnqueuer{err: errors.New("store down")}
	exec := newTestExecutor(store, fetcher, stubExtractor{}, enq, Config{Concurrency: 1})

	exec.ProcessBatch(context.Background(), crawler.CrawlSession{ID: "sess-1"}, []crawler.CrawlTask{testTask("t1")})

	require.Equal(t, crawler.TaskStatusFailed, store.terminal["t1"])
	require.Contains(t, store.errTexts["t1"], "enqueue links")
	require.Equal(t, 1, store.increment)
}

func TestProcessBatchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fetcher := &stubFetcher{
		resp:  crawler.FetchResponse{StatusCode: 200, Body: []byte("<html></html>")},
		delay: 20 * time.Millisecond,
	}
	exec := newTestExecutor(store, fetcher, stubExtractor{}, &stubEnqueuer{}, Config{Concurrency: 2})

	tasks := make([]crawler.CrawlTask, 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, testTask(fmt.Sprintf("t%d", i)))
	}
	exec.ProcessBatch(context.Background(), crawler.CrawlSession{ID: "sess-1"}, tasks)

	require.LessOrEqual(t, fetcher.peak.Load(), int32(2))
	require.Equal(t, 8, store.increment)
	for _, task := range tasks {
		require.Equal(t, crawler.TaskStatusCompleted, store.terminal[task.ID])
	}
}

type promoteAll struct{}

func (promoteAll) ShouldPromote(crawler.FetchResponse) bool { return true }

func TestProcessBatchPromotesToHeadless(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	probe := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 200, Body: []byte("<div id=root></div>")}}
	rendered := &stubFetcher{resp: crawler.FetchResponse{StatusCode: 200, Body: []byte("<html>rendered</html>")}}

	exec := NewExecutor(
		store,
		&memBlob{},
		sha256.New(),
		fixedClock{t: time.Now().UTC()},
		probe,
		rendered,
		promoteAll{},
		stubExtractor{},
		&stubEnqueuer{},
		nil,
		Config{Concurrency: 1, Headless: true},
		zap.NewNop(),
	)

	exec.ProcessBatch(context.Background(), crawler.CrawlSession{ID: "sess-1"}, []crawler.CrawlTask{testTask("t1")})

	require.Equal(t, crawler.TaskStatusCompleted, store.terminal["t1"])
	require.Len(t, store.pages, 1)
	h, err := sha256.New().Hash([]byte("<html>rendered</html>"))
	require.NoError(t, err)
	require.Equal(t, h, store.pages[0].ContentHash)
}
