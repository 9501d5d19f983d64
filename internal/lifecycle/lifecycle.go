// Package lifecycle orchestrates phased graceful shutdown.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Phase defines shutdown ordering: HTTP servers stop accepting first, then
// background workers drain, then leadership/locks release, then storage
// connections close.
type Phase int

const (
	PhaseHTTP Phase = iota
	PhaseWorkers
	PhaseLeader
	PhaseDatabase
	PhaseFinal
)

// Hook is a single named shutdown action bound to a Phase.
type Hook struct {
	Name     string
	Phase    Phase
	Timeout  time.Duration
	Shutdown func(ctx context.Context) error
}

// Manager runs registered hooks in phase order during shutdown.
type Manager struct {
	mu              sync.Mutex
	hooks           []Hook
	shutdownTimeout time.Duration
}

// NewManager creates a Manager with a default overall shutdown timeout.
func NewManager() *Manager {
	return &Manager{shutdownTimeout: 30 * time.Second}
}

// SetShutdownTimeout overrides the overall shutdown budget.
func (m *Manager) SetShutdownTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = d
}

// Register adds a shutdown hook, defaulting its per-hook timeout to 10s.
func (m *Manager) Register(h Hook) {
	if h.Timeout == 0 {
		h.Timeout = 10 * time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Shutdown runs every registered hook in Phase order, each under its own
// timeout, and returns after the overall shutdownTimeout elapses at the
// latest. A hook failure is logged but does not stop later phases from
// running — shutdown is best-effort, not transactional.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	hooks := append([]Hook{}, m.hooks...)
	overall := m.shutdownTimeout
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	byPhase := map[Phase][]Hook{}
	for _, h := range hooks {
		byPhase[h.Phase] = append(byPhase[h.Phase], h)
	}

	for phase := PhaseHTTP; phase <= PhaseFinal; phase++ {
		for _, h := range byPhase[phase] {
			hookCtx, hookCancel := context.WithTimeout(ctx, h.Timeout)
			if err := h.Shutdown(hookCtx); err != nil {
				slog.Error("shutdown hook failed", "hook", h.Name, "error", err)
			} else {
				slog.Info("shutdown hook completed", "hook", h.Name)
			}
			hookCancel()
		}
	}
}
