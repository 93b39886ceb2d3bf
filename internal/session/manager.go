package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
)

// Manager discovers running sessions and fans out one controller per
// session. A restart resumes exactly where the store says things stand;
// the claim queue carries all pipeline state.
type Manager struct {
	store      crawler.FrontierStore
	controller *Controller
	interval   time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
	kick   chan struct{}
}

// NewManager constructs a Manager polling for runnable sessions every
// interval.
func NewManager(store crawler.FrontierStore, controller *Controller, interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		controller: controller,
		interval:   interval,
		logger:     logger,
		active:     make(map[string]struct{}),
		kick:       make(chan struct{}, 1),
	}
}

// Run blocks, dispatching controllers for running sessions until the
// context finishes, then waits for in-flight controllers to stop.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.dispatch(ctx)
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-ticker.C:
		case <-m.kick:
		}
	}
}

// Kick asks the manager to re-scan for sessions without waiting for the
// next tick. Used by the API after creating a session.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	sessions, err := m.store.ListSessionsByStatus(ctx, crawler.SessionStatusRunning)
	if err != nil {
		m.logger.Error("list running sessions failed", zap.Error(err))
		return
	}
	for _, session := range sessions {
		m.startController(ctx, session.ID)
	}
}

func (m *Manager) startController(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if _, running := m.active[sessionID]; running {
		m.mu.Unlock()
		return
	}
	m.active[sessionID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, sessionID)
			m.mu.Unlock()
		}()
		if err := m.controller.Run(ctx, sessionID); err != nil && ctx.Err() == nil {
			m.logger.Error("session controller exited with error",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// ActiveSessions reports the controllers currently running in this process.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
