package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T) (*FrontierStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := NewFrontierStore(clock)
	require.NoError(t, store.CreateSession(context.Background(), crawler.CrawlSession{
		ID:          "sess-1",
		SeedURL:     "https://ex.com/",
		DomainScope: "ex.com",
		MaxPages:    100,
		MaxDepth:    3,
		Status:      crawler.SessionStatusRunning,
		CreatedAt:   clock.Now(),
	}))
	return store, clock
}

func insertTask(t *testing.T, store *FrontierStore, id string, depth int) {
	t.Helper()
	n, err := store.InsertTasks(context.Background(), "sess-1", []crawler.TaskInput{{
		ID:            id,
		URL:           "https://ex.com/" + id,
		NormalizedKey: "https://ex.com/" + id,
		Depth:         depth,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClaimNextOrdersByDepthThenInsertion(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	insertTask(t, store, "deep", 2)
	insertTask(t, store, "first", 1)
	insertTask(t, store, "second", 1)

	tasks, err := store.ClaimNext(context.Background(), "sess-1", 3, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "first", tasks[0].ID)
	require.Equal(t, "second", tasks[1].ID)
	require.Equal(t, "deep", tasks[2].ID)
	for _, task := range tasks {
		require.Equal(t, crawler.TaskStatusClaimed, task.Status)
	}
}

func TestClaimNextRespectsMaxDepthAndBatchSize(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	insertTask(t, store, "a", 1)
	insertTask(t, store, "b", 1)
	insertTask(t, store, "c", 4)

	tasks, err := store.ClaimNext(context.Background(), "sess-1", 3, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tasks, err = store.ClaimNext(context.Background(), "sess-1", 3, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1) // "c" is beyond max depth
}

func TestClaimNextNeverDoubleClaims(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	for i := 0; i < 50; i++ {
		insertTask(t, store, fmt.Sprintf("t%d", i), 1)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tasks, err := store.ClaimNext(context.Background(), "sess-1", 3, 3)
				require.NoError(t, err)
				if len(tasks) == 0 {
					return
				}
				mu.Lock()
				for _, task := range tasks {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for id, n := range seen {
		require.Equal(t, 1, n, "task %s claimed %d times", id, n)
	}
}

func TestInsertTasksDeduplicatesByKey(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()

	n, err := store.InsertTasks(ctx, "sess-1", []crawler.TaskInput{
		{ID: "t1", URL: "https://ex.com/a", NormalizedKey: "https://ex.com/a", Depth: 1},
		{ID: "t2", URL: "https://ex.com/a/", NormalizedKey: "https://ex.com/a", Depth: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = store.InsertTasks(ctx, "sess-1", []crawler.TaskInput{
		{ID: "t3", URL: "https://ex.com/a", NormalizedKey: "https://ex.com/a", Depth: 2},
	})
	require.NoError(t, err)
	require.Zero(t, n)

	existing, err := store.ExistingKeys(ctx, "sess-1", []string{"https://ex.com/a", "https://ex.com/b"})
	require.NoError(t, err)
	require.Contains(t, existing, "https://ex.com/a")
	require.NotContains(t, existing, "https://ex.com/b")
}

func TestReclaimStaleReturnsAndEventuallyFails(t *testing.T) {
	t.Parallel()

	store, clock := newStore(t)
	ctx := context.Background()
	insertTask(t, store, "t1", 1)

	reclaimAfterExpiry := func() int {
		tasks, err := store.ClaimNext(ctx, "sess-1", 3, 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		clock.advance(10 * time.Minute)
		n, err := store.ReclaimStale(ctx, 5*time.Minute, 3, clock.Now())
		require.NoError(t, err)
		return n
	}

	// First two expiries put the task back to pending.
	require.Equal(t, 1, reclaimAfterExpiry())
	task, ok := store.TaskByID("t1")
	require.True(t, ok)
	require.Equal(t, crawler.TaskStatusPending, task.Status)
	require.Equal(t, 1, task.Attempts)

	require.Equal(t, 1, reclaimAfterExpiry())

	// Third expiry hits max attempts and fails the task.
	require.Equal(t, 1, reclaimAfterExpiry())
	task, ok = store.TaskByID("t1")
	require.True(t, ok)
	require.Equal(t, crawler.TaskStatusFailed, task.Status)
	require.Equal(t, 3, task.Attempts)
	require.NotEmpty(t, task.ErrorText)
}

func TestReclaimStaleIgnoresFreshClaims(t *testing.T) {
	t.Parallel()

	store, clock := newStore(t)
	ctx := context.Background()
	insertTask(t, store, "t1", 1)

	_, err := store.ClaimNext(ctx, "sess-1", 3, 1)
	require.NoError(t, err)

	n, err := store.ReclaimStale(ctx, 5*time.Minute, 3, clock.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCompleteSessionIsIdempotent(t *testing.T) {
	t.Parallel()

	store, clock := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CompleteSession(ctx, "sess-1", clock.Now()))
	first, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, crawler.SessionStatusCompleted, first.Status)
	require.NotNil(t, first.CompletedAt)

	clock.advance(time.Hour)
	require.NoError(t, store.CompleteSession(ctx, "sess-1", clock.Now()))
	second, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, *first.CompletedAt, *second.CompletedAt)
}

func TestUpsertPageSecondWriteWins(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPage(ctx, crawler.PageRecord{
		SessionID: "sess-1", NormalizedKey: "https://ex.com/a", URL: "https://ex.com/a", Title: "old",
	}))
	require.NoError(t, store.UpsertPage(ctx, crawler.PageRecord{
		SessionID: "sess-1", NormalizedKey: "https://ex.com/a", URL: "https://ex.com/a", Title: "new",
	}))

	pages, err := store.ListPages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "new", pages[0].Title)
}

func TestIncrementPagesCrawledReturnsNewValue(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()

	n, err := store.IncrementPagesCrawled(ctx, "sess-1", 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = store.IncrementPagesCrawled(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = store.IncrementPagesCrawled(ctx, "missing", 1)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
