package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*FrontierStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewFrontierStoreWithPool(mock, fixedClock{t: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestClaimNextMarksAndReturnsTasks(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "session_id", "url", "normalized_key", "depth", "parent_url",
		"status", "attempts", "error_text", "created_at", "updated_at",
	}).AddRow(
		"t1", "sess-1", "https://ex.com/a", "https://ex.com/a", 1, "https://ex.com/",
		crawler.TaskStatusClaimed, 0, "", testNow, testNow,
	)

	mock.ExpectQuery("UPDATE crawl_tasks SET status = 'claimed'").
		WithArgs("sess-1", 3, testNow, 4).
		WillReturnRows(rows)

	tasks, err := store.ClaimNext(context.Background(), "sess-1", 3, 4)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "t1", tasks[0].ID)
	require.Equal(t, crawler.TaskStatusClaimed, tasks[0].Status)
	require.Equal(t, 1, tasks[0].Depth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTasksCountsOnlyNewRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t1", "sess-1", "https://ex.com/a", "https://ex.com/a", 1, "https://ex.com/", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Duplicate key hits ON CONFLICT DO NOTHING.
	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t2", "sess-1", "https://ex.com/a/", "https://ex.com/a", 1, "https://ex.com/", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := store.InsertTasks(context.Background(), "sess-1", []crawler.TaskInput{
		{ID: "t1", URL: "https://ex.com/a", NormalizedKey: "https://ex.com/a", Depth: 1, ParentURL: "https://ex.com/"},
		{ID: "t2", URL: "https://ex.com/a/", NormalizedKey: "https://ex.com/a", Depth: 1, ParentURL: "https://ex.com/"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTerminalReturnsNotFoundForUnknownTask(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_tasks SET status").
		WithArgs("missing", crawler.TaskStatusCompleted, "", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkTerminal(context.Background(), "missing", crawler.TaskStatusCompleted, "", testNow)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementPagesCrawledReturnsNewTotal(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE crawl_sessions SET pages_crawled").
		WithArgs("sess-1", 1).
		WillReturnRows(pgxmock.NewRows([]string{"pages_crawled"}).AddRow(5))

	total, err := store.IncrementPagesCrawled(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSessionIsGuardedAndIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_sessions SET status = 'completed'").
		WithArgs("sess-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// Second attempt matches no running row; still not an error.
	mock.ExpectExec("UPDATE crawl_sessions SET status = 'completed'").
		WithArgs("sess-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.CompleteSession(context.Background(), "sess-1", testNow))
	require.NoError(t, store.CompleteSession(context.Background(), "sess-1", testNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleReportsRowsTouched(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	staleAfter := 5 * time.Minute
	mock.ExpectExec("UPDATE crawl_tasks SET").
		WithArgs(testNow.Add(-staleAfter), 3, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.ReclaimStale(context.Background(), staleAfter, 3, testNow)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, project_id, seed_url").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingKeysReturnsMatches(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT normalized_key FROM crawl_tasks").
		WithArgs("sess-1", []string{"https://ex.com/a", "https://ex.com/b"}).
		WillReturnRows(pgxmock.NewRows([]string{"normalized_key"}).AddRow("https://ex.com/a"))

	existing, err := store.ExistingKeys(context.Background(), "sess-1", []string{"https://ex.com/a", "https://ex.com/b"})
	require.NoError(t, err)
	require.Contains(t, existing, "https://ex.com/a")
	require.NotContains(t, existing, "https://ex.com/b")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPageWritesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	page := crawler.PageRecord{
		SessionID:     "sess-1",
		NormalizedKey: "https://ex.com/a",
		URL:           "https://ex.com/a",
		Depth:         1,
		StatusCode:    200,
		Title:         "A",
		PageType:      "content",
		HealthScore:   85,
		ContentHash:   "abc",
		Headings:      []crawler.Heading{{Level: 1, Text: "A"}},
		FetchedAt:     testNow,
		DurationMs:    12,
	}

	mock.ExpectExec("INSERT INTO crawl_pages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyTagsConnectionErrorsTransient(t *testing.T) {
	t.Parallel()

	connErr := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	require.True(t, crawler.IsTransient(classify("claim", connErr)))

	tooMany := &pgconn.PgError{Code: "53300", Message: "too many connections"}
	require.True(t, crawler.IsTransient(classify("claim", tooMany)))

	syntax := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	require.False(t, crawler.IsTransient(classify("claim", syntax)))

	require.True(t, crawler.IsTransient(classify("claim", errors.New("dial tcp: connection refused"))))
	require.False(t, crawler.IsTransient(classify("claim", context.Canceled)))
}
