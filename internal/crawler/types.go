// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// TaskStatus represents the lifecycle state of one frontier entry.
type TaskStatus string

// Task status values persisted in the frontier store.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the frontier store.
const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

// CrawlTask is one frontier entry: a discovered URL waiting to be fetched,
// claimed by a worker, or already in a terminal state.
type CrawlTask struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	URL           string     `json:"url"`
	NormalizedKey string     `json:"normalized_key"`
	Depth         int        `json:"depth"`
	ParentURL     string     `json:"parent_url,omitempty"`
	Status        TaskStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	ErrorText     string     `json:"error_text,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskInput carries the fields needed to insert a new pending task. The store
// assigns timestamps and ignores rows whose (session_id, normalized_key)
// already exists.
type TaskInput struct {
	ID            string
	URL           string
	NormalizedKey string
	Depth         int
	ParentURL     string
}

// CrawlSession is one crawl run over a single domain scope.
type CrawlSession struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	SeedURL      string        `json:"seed_url"`
	DomainScope  string        `json:"domain_scope"`
	MaxPages     int           `json:"max_pages"`
	MaxDepth     int           `json:"max_depth"`
	PagesCrawled int           `json:"pages_crawled"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Heading is one h1..h6 element found on a page, in document order.
type Heading struct {
	Level    int    `json:"level"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// Paragraph is one substantial paragraph of page copy.
type Paragraph struct {
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
	Position  int    `json:"position"`
}

// Link is one outbound anchor found on a page.
type Link struct {
	Href       string `json:"href"`
	AnchorText string `json:"anchor_text"`
	Type       string `json:"link_type"` // internal | content | external
	NoFollow   bool   `json:"is_nofollow"`
}

// Extraction is the structured output of the extraction collaborator for one
// fetched document. Candidates holds the absolute outbound URLs considered
// for enqueueing; Links keeps the full per-anchor detail for persistence.
type Extraction struct {
	Title                string
	MetaDescription      string
	H1Text               string
	HasH1                bool
	WordCount            int
	PageType             string
	HealthScore          int
	InternalLinks        int
	ExternalLinks        int
	ContentInternalLinks int
	Headings             []Heading
	Paragraphs           []Paragraph
	Links                []Link
	Candidates           []string
}

// PageRecord is persisted for each fetched page, upserted by
// (session_id, normalized_key) so reprocessing never duplicates a page.
type PageRecord struct {
	SessionID            string      `json:"session_id"`
	ProjectID            string      `json:"project_id"`
	NormalizedKey        string      `json:"normalized_key"`
	URL                  string      `json:"url"`
	Depth                int         `json:"depth"`
	StatusCode           int         `json:"status_code"`
	Title                string      `json:"title"`
	MetaDescription      string      `json:"meta_description,omitempty"`
	H1Text               string      `json:"h1_text,omitempty"`
	HasH1                bool        `json:"has_h1"`
	WordCount            int         `json:"word_count"`
	PageType             string      `json:"page_type"`
	HealthScore          int         `json:"health_score"`
	InternalLinks        int         `json:"internal_links_count"`
	ExternalLinks        int         `json:"external_links_count"`
	ContentInternalLinks int         `json:"content_internal_links_count"`
	ContentHash          string      `json:"content_hash"`
	BlobURI              string      `json:"blob_uri,omitempty"`
	Headings             []Heading   `json:"headings,omitempty"`
	Paragraphs           []Paragraph `json:"paragraphs,omitempty"`
	Links                []Link      `json:"links,omitempty"`
	FetchedAt            time.Time   `json:"fetched_at"`
	DurationMs           int64       `json:"duration_ms"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// SessionResult is returned by the API result endpoint.
type SessionResult struct {
	Session CrawlSession `json:"session"`
	Pages   []PageRecord `json:"pages"`
}
