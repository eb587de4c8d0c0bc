package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
)

// Factory builds a fully wired orchestrator for one user.
type Factory func(address, username string) *Orchestrator

// Hub owns the live per-user orchestrators. The WebSocket handler and
// the REST handlers must operate on the same instance for a given user,
// otherwise the one-media-session policy falls apart; the hub is that
// meeting point. Sessions are reference counted: the last release stops
// the orchestrator's event loop and with it the signaling subscriptions.
type Hub struct {
	factory Factory

	mu       sync.Mutex
	sessions map[string]*hubSession
}

type hubSession struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	refs   int
}

// NewHub creates a session hub.
func NewHub(factory Factory) *Hub {
	return &Hub{
		factory:  factory,
		sessions: make(map[string]*hubSession),
	}
}

// Acquire returns the user's orchestrator, creating and starting it on
// first use. Every Acquire must be paired with a Release.
func (h *Hub) Acquire(address, username string) *Orchestrator {
	h.mu.Lock()
	defer h.mu.Unlock()

	if session, ok := h.sessions[address]; ok {
		session.refs++
		return session.orch
	}

	orch := h.factory(address, username)
	ctx, cancel := context.WithCancel(context.Background())
	h.sessions[address] = &hubSession{orch: orch, cancel: cancel, refs: 1}

	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("orchestrator stopped",
				zap.String("address", address),
				zap.Error(err))
		}
	}()

	logger.Info("call session started", zap.String("address", address))
	return orch
}

// Release drops one reference to the user's session, tearing it down
// when none remain.
func (h *Hub) Release(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[address]
	if !ok {
		return
	}
	session.refs--
	if session.refs > 0 {
		return
	}

	session.cancel()
	delete(h.sessions, address)
	logger.Info("call session stopped", zap.String("address", address))
}

// Active returns the number of live sessions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
