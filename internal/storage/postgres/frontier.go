// Package postgres provides the Postgres-backed frontier store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

// FrontierStoreConfig controls the Postgres connection pool.
type FrontierStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// FrontierStore implements crawler.FrontierStore on Postgres. All task-state
// transitions are single atomic statements so any number of worker processes
// can share one frontier.
type FrontierStore struct {
	pool  querier
	clock crawler.Clock
}

// NewFrontierStore creates a pooled Postgres-backed FrontierStore.
func NewFrontierStore(ctx context.Context, cfg FrontierStoreConfig, clock crawler.Clock) (*FrontierStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FrontierStore{pool: pool, clock: clock}, nil
}

// NewFrontierStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewFrontierStoreWithPool(pool querier, clock crawler.Clock) (*FrontierStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FrontierStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *FrontierStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateSession implements crawler.FrontierStore.
func (s *FrontierStore) CreateSession(ctx context.Context, session crawler.CrawlSession) error {
	query := `
		INSERT INTO crawl_sessions (
			id, project_id, seed_url, domain_scope, max_pages, max_depth,
			pages_crawled, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.pool.Exec(ctx, query,
		session.ID,
		session.ProjectID,
		session.SeedURL,
		session.DomainScope,
		session.MaxPages,
		session.MaxDepth,
		session.PagesCrawled,
		session.Status,
		session.CreatedAt,
	)
	if err != nil {
		return classify("insert session", err)
	}
	return nil
}

// GetSession implements crawler.FrontierStore.
func (s *FrontierStore) GetSession(ctx context.Context, sessionID string) (crawler.CrawlSession, error) {
	query := `
		SELECT id, project_id, seed_url, domain_scope, max_pages, max_depth,
			pages_crawled, status, created_at, completed_at
		FROM crawl_sessions WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlSession{}, crawler.ErrNotFound
		}
		return crawler.CrawlSession{}, classify("select session", err)
	}
	return session, nil
}

// ListSessionsByStatus implements crawler.FrontierStore.
func (s *FrontierStore) ListSessionsByStatus(ctx context.Context, status crawler.SessionStatus) ([]crawler.CrawlSession, error) {
	query := `
		SELECT id, project_id, seed_url, domain_scope, max_pages, max_depth,
			pages_crawled, status, created_at, completed_at
		FROM crawl_sessions WHERE status = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, classify("select sessions", err)
	}
	defer rows.Close()
	var out []crawler.CrawlSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate sessions", err)
	}
	return out, nil
}

// ClaimNext implements crawler.FrontierStore. FOR UPDATE SKIP LOCKED keeps
// concurrent claimers from ever returning the same row.
func (s *FrontierStore) ClaimNext(ctx context.Context, sessionID string, maxDepth, batchSize int) ([]crawler.CrawlTask, error) {
	query := `
		UPDATE crawl_tasks SET status = 'claimed', updated_at = $3
		WHERE id IN (
			SELECT id FROM crawl_tasks
			WHERE session_id = $1 AND status = 'pending' AND depth <= $2
			ORDER BY depth ASC, created_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, session_id, url, normalized_key, depth, parent_url,
			status, attempts, error_text, created_at, updated_at`
	rows, err := s.pool.Query(ctx, query, sessionID, maxDepth, s.clock.Now(), batchSize)
	if err != nil {
		return nil, classify("claim tasks", err)
	}
	defer rows.Close()
	var out []crawler.CrawlTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate claimed tasks", err)
	}
	return out, nil
}

// InsertTasks implements crawler.FrontierStore. The unique index on
// (session_id, normalized_key) silently rejects duplicates.
func (s *FrontierStore) InsertTasks(ctx context.Context, sessionID string, tasks []crawler.TaskInput) (int, error) {
	query := `
		INSERT INTO crawl_tasks (
			id, session_id, url, normalized_key, depth, parent_url,
			status, attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,'pending',0,$7,$7)
		ON CONFLICT (session_id, normalized_key) DO NOTHING`
	now := s.clock.Now()
	inserted := 0
	for _, task := range tasks {
		tag, err := s.pool.Exec(ctx, query,
			task.ID, sessionID, task.URL, task.NormalizedKey, task.Depth, task.ParentURL, now)
		if err != nil {
			return inserted, classify("insert task", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ExistingKeys implements crawler.FrontierStore.
func (s *FrontierStore) ExistingKeys(ctx context.Context, sessionID string, keys []string) (map[string]struct{}, error) {
	if len(keys) == 0 {
		return map[string]struct{}{}, nil
	}
	query := `SELECT normalized_key FROM crawl_tasks WHERE session_id = $1 AND normalized_key = ANY($2)`
	rows, err := s.pool.Query(ctx, query, sessionID, keys)
	if err != nil {
		return nil, classify("select existing keys", err)
	}
	defer rows.Close()
	out := make(map[string]struct{}, len(keys))
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate existing keys", err)
	}
	return out, nil
}

// MarkTerminal implements crawler.FrontierStore.
func (s *FrontierStore) MarkTerminal(ctx context.Context, taskID string, status crawler.TaskStatus, errText string, at time.Time) error {
	query := `UPDATE crawl_tasks SET status = $2, error_text = $3, updated_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID, status, errText, at)
	if err != nil {
		return classify("mark task terminal", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// UpsertPage implements crawler.FrontierStore. A rerun of the same task
// overwrites its earlier row.
func (s *FrontierStore) UpsertPage(ctx context.Context, page crawler.PageRecord) error {
	headings, err := json.Marshal(page.Headings)
	if err != nil {
		return fmt.Errorf("marshal headings: %w", err)
	}
	paragraphs, err := json.Marshal(page.Paragraphs)
	if err != nil {
		return fmt.Errorf("marshal paragraphs: %w", err)
	}
	links, err := json.Marshal(page.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	query := `
		INSERT INTO crawl_pages (
			session_id, project_id, normalized_key, url, depth, status_code,
			title, meta_description, h1_text, has_h1, word_count, page_type,
			health_score, internal_links_count, external_links_count,
			content_internal_links_count, content_hash, blob_uri,
			headings, paragraphs, links, fetched_at, duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (session_id, normalized_key) DO UPDATE SET
			url = EXCLUDED.url,
			depth = EXCLUDED.depth,
			status_code = EXCLUDED.status_code,
			title = EXCLUDED.title,
			meta_description = EXCLUDED.meta_description,
			h1_text = EXCLUDED.h1_text,
			has_h1 = EXCLUDED.has_h1,
			word_count = EXCLUDED.word_count,
			page_type = EXCLUDED.page_type,
			health_score = EXCLUDED.health_score,
			internal_links_count = EXCLUDED.internal_links_count,
			external_links_count = EXCLUDED.external_links_count,
			content_internal_links_count = EXCLUDED.content_internal_links_count,
			content_hash = EXCLUDED.content_hash,
			blob_uri = EXCLUDED.blob_uri,
			headings = EXCLUDED.headings,
			paragraphs = EXCLUDED.paragraphs,
			links = EXCLUDED.links,
			fetched_at = EXCLUDED.fetched_at,
			duration_ms = EXCLUDED.duration_ms`
	_, err = s.pool.Exec(ctx, query,
		page.SessionID,
		page.ProjectID,
		page.NormalizedKey,
		page.URL,
		page.Depth,
		page.StatusCode,
		page.Title,
		page.MetaDescription,
		page.H1Text,
		page.HasH1,
		page.WordCount,
		page.PageType,
		page.HealthScore,
		page.InternalLinks,
		page.ExternalLinks,
		page.ContentInternalLinks,
		page.ContentHash,
		page.BlobURI,
		headings,
		paragraphs,
		links,
		page.FetchedAt,
		page.DurationMs,
	)
	if err != nil {
		return classify("upsert page", err)
	}
	return nil
}

// IncrementPagesCrawled implements crawler.FrontierStore.
func (s *FrontierStore) IncrementPagesCrawled(ctx context.Context, sessionID string, delta int) (int, error) {
	query := `UPDATE crawl_sessions SET pages_crawled = pages_crawled + $2 WHERE id = $1 RETURNING pages_crawled`
	var total int
	if err := s.pool.QueryRow(ctx, query, sessionID, delta).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, crawler.ErrNotFound
		}
		return 0, classify("increment pages crawled", err)
	}
	return total, nil
}

// CompleteSession implements crawler.FrontierStore. The status guard makes
// concurrent completion attempts harmless.
func (s *FrontierStore) CompleteSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `
		UPDATE crawl_sessions SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'running'`
	if _, err := s.pool.Exec(ctx, query, sessionID, at); err != nil {
		return classify("complete session", err)
	}
	return nil
}

// CountPending implements crawler.FrontierStore.
func (s *FrontierStore) CountPending(ctx context.Context, sessionID string) (int, error) {
	return s.countTasks(ctx, sessionID, "pending")
}

// CountClaimed implements crawler.FrontierStore.
func (s *FrontierStore) CountClaimed(ctx context.Context, sessionID string) (int, error) {
	return s.countTasks(ctx, sessionID, "claimed")
}

// CountFailed implements crawler.FrontierStore.
func (s *FrontierStore) CountFailed(ctx context.Context, sessionID string) (int, error) {
	return s.countTasks(ctx, sessionID, "failed")
}

// CountTasks implements crawler.FrontierStore.
func (s *FrontierStore) CountTasks(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT count(*) FROM crawl_tasks WHERE session_id = $1`
	var n int
	if err := s.pool.QueryRow(ctx, query, sessionID).Scan(&n); err != nil {
		return 0, classify("count tasks", err)
	}
	return n, nil
}

// ListPages implements crawler.FrontierStore.
func (s *FrontierStore) ListPages(ctx context.Context, sessionID string) ([]crawler.PageRecord, error) {
	query := `
		SELECT session_id, project_id, normalized_key, url, depth, status_code,
			title, meta_description, h1_text, has_h1, word_count, page_type,
			health_score, internal_links_count, external_links_count,
			content_internal_links_count, content_hash, blob_uri,
			headings, paragraphs, links, fetched_at, duration_ms
		FROM crawl_pages WHERE session_id = $1 ORDER BY depth ASC, url ASC`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, classify("select pages", err)
	}
	defer rows.Close()
	var out []crawler.PageRecord
	for rows.Next() {
		var page crawler.PageRecord
		var headings, paragraphs, links []byte
		if err := rows.Scan(
			&page.SessionID,
			&page.ProjectID,
			&page.NormalizedKey,
			&page.URL,
			&page.Depth,
			&page.StatusCode,
			&page.Title,
			&page.MetaDescription,
			&page.H1Text,
			&page.HasH1,
			&page.WordCount,
			&page.PageType,
			&page.HealthScore,
			&page.InternalLinks,
			&page.ExternalLinks,
			&page.ContentInternalLinks,
			&page.ContentHash,
			&page.BlobURI,
			&headings,
			&paragraphs,
			&links,
			&page.FetchedAt,
			&page.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if len(headings) > 0 {
			if err := json.Unmarshal(headings, &page.Headings); err != nil {
				return nil, fmt.Errorf("unmarshal headings: %w", err)
			}
		}
		if len(paragraphs) > 0 {
			if err := json.Unmarshal(paragraphs, &page.Paragraphs); err != nil {
				return nil, fmt.Errorf("unmarshal paragraphs: %w", err)
			}
		}
		if len(links) > 0 {
			if err := json.Unmarshal(links, &page.Links); err != nil {
				return nil, fmt.Errorf("unmarshal links: %w", err)
			}
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate pages", err)
	}
	return out, nil
}

// ReclaimStale implements crawler.FrontierStore. A reclaimed task returns to
// pending until its attempts reach maxAttempts, then fails for good.
func (s *FrontierStore) ReclaimStale(ctx context.Context, staleAfter time.Duration, maxAttempts int, at time.Time) (int, error) {
	query := `
		UPDATE crawl_tasks SET
			attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
			error_text = CASE WHEN attempts + 1 >= $2 THEN 'claim expired too many times' ELSE error_text END,
			updated_at = $3
		WHERE status = 'claimed' AND updated_at < $1`
	tag, err := s.pool.Exec(ctx, query, at.Add(-staleAfter), maxAttempts, at)
	if err != nil {
		return 0, classify("reclaim stale tasks", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *FrontierStore) countTasks(ctx context.Context, sessionID, status string) (int, error) {
	query := `SELECT count(*) FROM crawl_tasks WHERE session_id = $1 AND status = $2`
	var n int
	if err := s.pool.QueryRow(ctx, query, sessionID, status).Scan(&n); err != nil {
		return 0, classify("count "+status+" tasks", err)
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (crawler.CrawlSession, error) {
	var session crawler.CrawlSession
	err := row.Scan(
		&session.ID,
		&session.ProjectID,
		&session.SeedURL,
		&session.DomainScope,
		&session.MaxPages,
		&session.MaxDepth,
		&session.PagesCrawled,
		&session.Status,
		&session.CreatedAt,
		&session.CompletedAt,
	)
	return session, err
}

func scanTask(row scannable) (crawler.CrawlTask, error) {
	var task crawler.CrawlTask
	err := row.Scan(
		&task.ID,
		&task.SessionID,
		&task.URL,
		&task.NormalizedKey,
		&task.Depth,
		&task.ParentURL,
		&task.Status,
		&task.Attempts,
		&task.ErrorText,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	return task, err
}

// classify wraps err, tagging connection-level failures as transient so the
// claimer can retry them. SQL errors stay permanent.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Connection exceptions, resource exhaustion, and shutdown states
		// are worth retrying.
		code := pgErr.Code
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57") {
			return crawler.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, err)
	}
	// Anything else (dial failures, broken pool, timeouts) is assumed
	// recoverable.
	return crawler.Transient(op, err)
}
