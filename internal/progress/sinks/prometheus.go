package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
)

// PrometheusSink exports crawl progress metrics. It owns the collectors for
// session lifecycle, per-host page outcomes, enqueue volume, and reaper sweeps.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsRunning   prometheus.Gauge
	sessionRuntime    prometheus.Histogram

	pagesCrawled  *prometheus.CounterVec
	pagesFailed   *prometheus.CounterVec
	pageBytes     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	linksEnqueued prometheus.Counter
	tasksReaped   prometheus.Counter

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_sessions_started_total",
			Help: "Total crawl sessions that have started.",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_sessions_completed_total",
			Help: "Total crawl sessions that reached the completed state.",
		}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_sessions_running",
			Help: "Current number of running crawl sessions.",
		}),
		sessionRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawl_session_runtime_seconds",
			Help:    "Wall time per completed session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		pagesCrawled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Page completions partitioned by host and status class.",
		}, []string{"host", "status_class"}),
		pagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_failed_total",
			Help: "Page failures partitioned by host.",
		}, []string{"host"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_page_bytes_total",
			Help: "Bytes downloaded per host.",
		}, []string{"host"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by host and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host", "status_class"}),
		linksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_links_enqueued_total",
			Help: "Frontier tasks inserted by the enqueuer.",
		}),
		tasksReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_tasks_reclaimed_total",
			Help: "Stale claimed tasks recovered by the reaper.",
		}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionsRunning,
		s.sessionRuntime,
		s.pagesCrawled,
		s.pagesFailed,
		s.pageBytes,
		s.fetchDuration,
		s.linksEnqueued,
		s.tasksReaped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case progress.StageSessionDone:
		s.sessionsCompleted.Inc()
		if evt.Dur > 0 {
			s.sessionRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case progress.StagePageDone:
		s.handlePageDone(evt)
	case progress.StagePageFailed:
		s.pagesFailed.WithLabelValues(hostLabel(evt)).Inc()
	case progress.StageLinksEnqueued:
		s.linksEnqueued.Add(float64(evt.Count))
	case progress.StageReaperSweep:
		s.tasksReaped.Add(float64(evt.Count))
	}
}

func (s *PrometheusSink) handlePageDone(evt progress.Event) {
	host := hostLabel(evt)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.pagesCrawled.WithLabelValues(host, statusClass).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(host).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(host, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func hostLabel(evt progress.Event) string {
	if evt.Host == "" {
		return "unknown"
	}
	return evt.Host
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[string]struct{})}
}

func (t *sessionTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
