package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
)

type sweepStore struct {
	crawler.FrontierStore

	mu         sync.Mutex
	calls      int
	staleAfter time.Duration
	maxAtt     int
	n          int
	err        error
}

func (s *sweepStore) ReclaimStale(_ context.Context, staleAfter time.Duration, maxAttempts int, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.staleAfter = staleAfter
	s.maxAtt = maxAttempts
	return s.n, s.err
}

func (s *sweepStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestSweepReportsReclaimedCount(t *testing.T) {
	t.Parallel()

	store := &sweepStore{n: 3}
	emitter := &captureEmitter{}
	r := New(store, fixedClock{t: time.Now().UTC()}, emitter, Config{
		StaleAfter:  2 * time.Minute,
		MaxAttempts: 5,
	}, zap.NewNop())

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 2*time.Minute, store.staleAfter)
	require.Equal(t, 5, store.maxAtt)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.events, 1)
	require.Equal(t, progress.StageReaperSweep, emitter.events[0].Stage)
	require.Equal(t, 3, emitter.events[0].Count)
}

func TestSweepSilentWhenNothingReclaimed(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	r := New(&sweepStore{n: 0}, fixedClock{t: time.Now().UTC()}, emitter, Config{}, zap.NewNop())

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, emitter.events)
}

func TestSweepWrapsStoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	r := New(&sweepStore{err: boom}, fixedClock{t: time.Now().UTC()}, nil, Config{}, zap.NewNop())

	_, err := r.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRunSweepsOnInterval(t *testing.T) {
	t.Parallel()

	store := &sweepStore{}
	r := New(store, fixedClock{t: time.Now().UTC()}, nil, Config{
		Interval: 10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return store.callCount() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}
