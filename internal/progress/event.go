// Package progress defines the event stream emitted by the crawl pipeline
// and the hub that batches it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageSessionStart    Stage = "SESSION_START"
	StageSessionSettling Stage = "SESSION_SETTLING"
	StageSessionDone     Stage = "SESSION_DONE"
	StagePageDone        Stage = "PAGE_DONE"
	StagePageFailed      Stage = "PAGE_FAILED"
	StageLinksEnqueued   Stage = "LINKS_ENQUEUED"
	StageReaperSweep     Stage = "REAPER_SWEEP"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone in a crawl session.
type Event struct {
	// SessionID scopes the event to a crawl session. Reaper sweeps leave
	// it empty because they span sessions.
	SessionID string
	// TaskID optionally identifies the frontier entry involved.
	TaskID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Host scopes page events to the crawled domain.
	Host string
	// URL is the page URL for page events.
	URL string
	// Depth is the BFS depth of the page involved.
	Depth int
	// Bytes carries the response body size for page events.
	Bytes int64
	// Count carries stage-specific volume (links enqueued, tasks reclaimed,
	// pages crawled at session completion).
	Count int
	// StatusClass groups HTTP response codes for page events.
	StatusClass StatusClass
	// Dur captures fetch latency or total session runtime.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionSettling, StageSessionDone, StageLinksEnqueued:
		if e.SessionID == "" {
			return errors.New("session id is required")
		}
	case StagePageDone:
		if e.SessionID == "" {
			return errors.New("session id is required")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StagePageFailed:
		if e.SessionID == "" {
			return errors.New("session id is required")
		}
	case StageReaperSweep:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
