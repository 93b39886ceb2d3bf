// Package memory provides in-memory store implementations used by tests
// and the memory storage provider.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

type taskEntry struct {
	task crawler.CrawlTask
	seq  int64
}

// FrontierStore is an in-memory crawler.FrontierStore. It mirrors the
// Postgres store's semantics closely enough to back single-process runs
// and the pipeline tests: atomic claims, key-level dedup, idempotent
// session completion.
type FrontierStore struct {
	clock crawler.Clock

	mu       sync.Mutex
	sessions map[string]*crawler.CrawlSession
	tasks    map[string]map[string]*taskEntry          // session id -> task id -> entry
	keys     map[string]map[string]struct{}            // session id -> normalized key set
	pages    map[string]map[string]*crawler.PageRecord // session id -> normalized key -> page
	seq      int64
}

// NewFrontierStore constructs an empty store.
func NewFrontierStore(clock crawler.Clock) *FrontierStore {
	return &FrontierStore{
		clock:    clock,
		sessions: make(map[string]*crawler.CrawlSession),
		tasks:    make(map[string]map[string]*taskEntry),
		keys:     make(map[string]map[string]struct{}),
		pages:    make(map[string]map[string]*crawler.PageRecord),
	}
}

// CreateSession implements crawler.FrontierStore.
func (s *FrontierStore) CreateSession(_ context.Context, session crawler.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := session
	s.sessions[session.ID] = &cp
	s.tasks[session.ID] = make(map[string]*taskEntry)
	s.keys[session.ID] = make(map[string]struct{})
	s.pages[session.ID] = make(map[string]*crawler.PageRecord)
	return nil
}

// GetSession implements crawler.FrontierStore.
func (s *FrontierStore) GetSession(_ context.Context, sessionID string) (crawler.CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawler.CrawlSession{}, crawler.ErrNotFound
	}
	return *session, nil
}

// ListSessionsByStatus implements crawler.FrontierStore.
func (s *FrontierStore) ListSessionsByStatus(_ context.Context, status crawler.SessionStatus) ([]crawler.CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.CrawlSession
	for _, session := range s.sessions {
		if session.Status == status {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ClaimNext implements crawler.FrontierStore. Tasks come back lowest depth
// first, insertion order within a depth.
func (s *FrontierStore) ClaimNext(_ context.Context, sessionID string, maxDepth, batchSize int) ([]crawler.CrawlTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.tasks[sessionID]
	var eligible []*taskEntry
	for _, entry := range entries {
		if entry.task.Status == crawler.TaskStatusPending && entry.task.Depth <= maxDepth {
			eligible = append(eligible, entry)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].task.Depth != eligible[j].task.Depth {
			return eligible[i].task.Depth < eligible[j].task.Depth
		}
		return eligible[i].seq < eligible[j].seq
	})
	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}
	now := s.clock.Now()
	claimed := make([]crawler.CrawlTask, 0, len(eligible))
	for _, entry := range eligible {
		entry.task.Status = crawler.TaskStatusClaimed
		entry.task.UpdatedAt = now
		claimed = append(claimed, entry.task)
	}
	return claimed, nil
}

// InsertTasks implements crawler.FrontierStore.
func (s *FrontierStore) InsertTasks(_ context.Context, sessionID string, tasks []crawler.TaskInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := s.keys[sessionID]
	if known == nil {
		known = make(map[string]struct{})
		s.keys[sessionID] = known
	}
	if s.tasks[sessionID] == nil {
		s.tasks[sessionID] = make(map[string]*taskEntry)
	}
	now := s.clock.Now()
	inserted := 0
	for _, input := range tasks {
		if _, dup := known[input.NormalizedKey]; dup {
			continue
		}
		known[input.NormalizedKey] = struct{}{}
		s.seq++
		s.tasks[sessionID][input.ID] = &taskEntry{
			seq: s.seq,
			task: crawler.CrawlTask{
				ID:            input.ID,
				SessionID:     sessionID,
				URL:           input.URL,
				NormalizedKey: input.NormalizedKey,
				Depth:         input.Depth,
				ParentURL:     input.ParentURL,
				Status:        crawler.TaskStatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		}
		inserted++
	}
	return inserted, nil
}

// ExistingKeys implements crawler.FrontierStore.
func (s *FrontierStore) ExistingKeys(_ context.Context, sessionID string, keys []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := s.keys[sessionID]
	out := make(map[string]struct{})
	for _, key := range keys {
		if _, ok := known[key]; ok {
			out[key] = struct{}{}
		}
	}
	return out, nil
}

// MarkTerminal implements crawler.FrontierStore.
func (s *FrontierStore) MarkTerminal(_ context.Context, taskID string, status crawler.TaskStatus, errText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range s.tasks {
		if entry, ok := entries[taskID]; ok {
			entry.task.Status = status
			entry.task.ErrorText = errText
			entry.task.UpdatedAt = at
			return nil
		}
	}
	return crawler.ErrNotFound
}

// UpsertPage implements crawler.FrontierStore. A second write for the same
// normalized key replaces the first.
func (s *FrontierStore) UpsertPage(_ context.Context, page crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages[page.SessionID] == nil {
		s.pages[page.SessionID] = make(map[string]*crawler.PageRecord)
	}
	cp := page
	s.pages[page.SessionID][page.NormalizedKey] = &cp
	return nil
}

// IncrementPagesCrawled implements crawler.FrontierStore.
func (s *FrontierStore) IncrementPagesCrawled(_ context.Context, sessionID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, crawler.ErrNotFound
	}
	session.PagesCrawled += delta
	return session.PagesCrawled, nil
}

// CompleteSession implements crawler.FrontierStore. Only a running session
// transitions; repeat calls are no-ops.
func (s *FrontierStore) CompleteSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawler.ErrNotFound
	}
	if session.Status != crawler.SessionStatusRunning {
		return nil
	}
	session.Status = crawler.SessionStatusCompleted
	completed := at
	session.CompletedAt = &completed
	return nil
}

// CountPending implements crawler.FrontierStore.
func (s *FrontierStore) CountPending(ctx context.Context, sessionID string) (int, error) {
	return s.countByStatus(sessionID, crawler.TaskStatusPending), nil
}

// CountClaimed implements crawler.FrontierStore.
func (s *FrontierStore) CountClaimed(ctx context.Context, sessionID string) (int, error) {
	return s.countByStatus(sessionID, crawler.TaskStatusClaimed), nil
}

// CountFailed implements crawler.FrontierStore.
func (s *FrontierStore) CountFailed(ctx context.Context, sessionID string) (int, error) {
	return s.countByStatus(sessionID, crawler.TaskStatusFailed), nil
}

// CountTasks implements crawler.FrontierStore.
func (s *FrontierStore) CountTasks(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[sessionID]), nil
}

// ListPages implements crawler.FrontierStore.
func (s *FrontierStore) ListPages(_ context.Context, sessionID string) ([]crawler.PageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.PageRecord
	for _, page := range s.pages[sessionID] {
		out = append(out, *page)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}

// ReclaimStale implements crawler.FrontierStore.
func (s *FrontierStore) ReclaimStale(_ context.Context, staleAfter time.Duration, maxAttempts int, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := at.Add(-staleAfter)
	touched := 0
	for _, entries := range s.tasks {
		for _, entry := range entries {
			if entry.task.Status != crawler.TaskStatusClaimed || entry.task.UpdatedAt.After(cutoff) {
				continue
			}
			entry.task.Attempts++
			if entry.task.Attempts >= maxAttempts {
				entry.task.Status = crawler.TaskStatusFailed
				entry.task.ErrorText = "claim expired too many times"
			} else {
				entry.task.Status = crawler.TaskStatusPending
			}
			entry.task.UpdatedAt = at
			touched++
		}
	}
	return touched, nil
}

// TaskByID returns a snapshot of a task for assertions in tests.
func (s *FrontierStore) TaskByID(taskID string) (crawler.CrawlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range s.tasks {
		if entry, ok := entries[taskID]; ok {
			return entry.task, true
		}
	}
	return crawler.CrawlTask{}, false
}

func (s *FrontierStore) countByStatus(sessionID string, status crawler.TaskStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.tasks[sessionID] {
		if entry.task.Status == status {
			n++
		}
	}
	return n
}
