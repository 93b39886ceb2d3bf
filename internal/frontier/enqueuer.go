// Package frontier implements claiming from and feeding of the durable
// crawl frontier.
package frontier

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

// Non-document extensions that are never worth fetching.
var skippedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".css": {}, ".js": {}, ".pdf": {}, ".zip": {}, ".gz": {},
	".tar": {}, ".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".woff": {},
	".woff2": {}, ".ttf": {}, ".eot": {}, ".xml": {}, ".json": {},
}

// Enqueuer filters candidate links and inserts the survivors as pending
// tasks. Deduplication here is best-effort; the store's uniqueness
// constraint on (session_id, normalized_key) is the correctness backstop,
// so a race degrades to a silently rejected duplicate insert.
type Enqueuer struct {
	store  crawler.FrontierStore
	idGen  crawler.IDGenerator
	logger *zap.Logger
}

// NewEnqueuer constructs an Enqueuer.
func NewEnqueuer(store crawler.FrontierStore, idGen crawler.IDGenerator, logger *zap.Logger) *Enqueuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enqueuer{store: store, idGen: idGen, logger: logger}
}

// Enqueue resolves and filters candidates discovered on sourceURL at
// sourceDepth, then inserts the survivors at depth sourceDepth+1. Returns
// the number of tasks actually inserted. Depth and page-budget exhaustion
// are normal outcomes, not errors.
func (e *Enqueuer) Enqueue(
	ctx context.Context,
	session crawler.CrawlSession,
	sourceURL string,
	sourceDepth int,
	candidates []string,
) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	depth := sourceDepth + 1
	if depth > session.MaxDepth {
		return 0, nil
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return 0, fmt.Errorf("parse source url: %w", err)
	}

	picked := e.filterCandidates(base, session.DomainScope, candidates)
	if len(picked) == 0 {
		return 0, nil
	}

	picked = e.dropKnownKeys(ctx, session.ID, picked)
	if len(picked) == 0 {
		return 0, nil
	}

	known, err := e.store.CountTasks(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("count known tasks: %w", err)
	}
	room := session.MaxPages - known
	if room <= 0 {
		return 0, nil
	}
	if len(picked) > room {
		picked = picked[:room]
	}

	inputs := make([]crawler.TaskInput, 0, len(picked))
	for _, c := range picked {
		id, err := e.idGen.NewID()
		if err != nil {
			return 0, fmt.Errorf("generate task id: %w", err)
		}
		inputs = append(inputs, crawler.TaskInput{
			ID:            id,
			URL:           c.url,
			NormalizedKey: c.key,
			Depth:         depth,
			ParentURL:     sourceURL,
		})
	}

	inserted, err := e.store.InsertTasks(ctx, session.ID, inputs)
	if err != nil {
		return 0, fmt.Errorf("insert tasks: %w", err)
	}
	return inserted, nil
}

type candidate struct {
	url string
	key string
}

func (e *Enqueuer) filterCandidates(base *url.URL, domainScope string, raw []string) []candidate {
	seen := make(map[string]struct{}, len(raw))
	var picked []candidate
	for _, href := range raw {
		absolute := crawler.ResolveCandidate(base, href)
		if absolute == "" {
			continue
		}
		u, err := url.Parse(absolute)
		if err != nil {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if hasSkippedExtension(u.Path) {
			continue
		}
		if !strings.EqualFold(u.Hostname(), domainScope) {
			continue
		}
		key := crawler.NormalizeKey(absolute)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		picked = append(picked, candidate{url: absolute, key: key})
	}
	return picked
}

func (e *Enqueuer) dropKnownKeys(ctx context.Context, sessionID string, picked []candidate) []candidate {
	keys := make([]string, len(picked))
	for i, c := range picked {
		keys[i] = c.key
	}
	existing, err := e.store.ExistingKeys(ctx, sessionID, keys)
	if err != nil {
		// Best-effort pre-filter only; the insert's conflict handling
		// still rejects duplicates.
		e.logger.Warn("existing-key lookup failed, relying on insert dedup", zap.Error(err))
		return picked
	}
	fresh := picked[:0]
	for _, c := range picked {
		if _, known := existing[c.key]; !known {
			fresh = append(fresh, c)
		}
	}
	return fresh
}

func hasSkippedExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, skip := skippedExtensions[ext]
	return skip
}
