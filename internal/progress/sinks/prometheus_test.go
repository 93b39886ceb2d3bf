package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
)

func TestPrometheusSinkCountsSessionsAndPages(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{SessionID: "s1", TS: now, Stage: progress.StageSessionStart},
		{SessionID: "s1", TS: now, Stage: progress.StagePageDone, Host: "ex.com", StatusClass: progress.Status2xx, Bytes: 2048, Dur: 80 * time.Millisecond},
		{SessionID: "s1", TS: now, Stage: progress.StagePageFailed, Host: "ex.com", Note: "status 500"},
		{SessionID: "s1", TS: now, Stage: progress.StageLinksEnqueued, Count: 7},
		{TS: now, Stage: progress.StageReaperSweep, Count: 2},
		{SessionID: "s1", TS: now, Stage: progress.StageSessionDone, Dur: 3 * time.Second, Count: 12},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsCompleted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesCrawled.WithLabelValues("ex.com", "2xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesFailed.WithLabelValues("ex.com")))
	require.Equal(t, 2048.0, testutil.ToFloat64(sink.pageBytes.WithLabelValues("ex.com")))
	require.Equal(t, 7.0, testutil.ToFloat64(sink.linksEnqueued))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.tasksReaped))
}

func TestPrometheusSinkTracksRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: "a", TS: now, Stage: progress.StageSessionStart},
		{SessionID: "b", TS: now, Stage: progress.StageSessionStart},
		{SessionID: "a", TS: now, Stage: progress.StageSessionStart}, // duplicate start
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.sessionsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: "a", TS: now, Stage: progress.StageSessionDone},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsRunning))
}
