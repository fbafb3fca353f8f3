package router

import (
	"context"
	"fmt"
	"log/slog"

	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// GameOrchestrator is the orchestrator surface inbound game events reach
type GameOrchestrator interface {
	HandleMove(conn interfaces.Connection, choice string) error
	HandleGameStateRequest(conn interfaces.Connection) error
}

// Router decodes inbound game frames and dispatches them by event name
// ARCHITECTURAL DISCOVERY: Pure dispatch logic without connection handling;
// malformed frames stop here and never reach the orchestrator
type Router struct {
	orchestrator GameOrchestrator
	rateLimiter  *RateLimiter
	logger       *slog.Logger
}

// NewRouter creates a new frame router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewRouter(orchestrator GameOrchestrator, rateLimiter *RateLimiter, logger *slog.Logger) *Router {
	if rateLimiter == nil {
		rateLimiter = NewRateLimiter(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		orchestrator: orchestrator,
		rateLimiter:  rateLimiter,
		logger:       logger.With(slog.String("component", "router")),
	}
}

// Route parses one text frame from conn and hands it to the orchestrator.
// Protocol errors are returned for the caller to log; the connection stays open.
func (r *Router) Route(ctx context.Context, conn interfaces.Connection, data []byte) error {
	if conn == nil {
		return ErrNilConnection
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per participant before parsing
	// so floods of garbage frames are cheap to drop
	if !r.rateLimiter.Allow(conn.Participant()) {
		return ErrRateLimitExceeded
	}

	envelope, err := types.ParseEnvelope(data)
	if err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}

	switch envelope.Event {
	case types.EventMove:
		return r.orchestrator.HandleMove(conn, envelope.Choice)
	case types.EventRequestGameState:
		return r.orchestrator.HandleGameStateRequest(conn)
	default:
		// ParseEnvelope only admits inbound events
		return types.ErrUnknownEvent
	}
}

// RateLimiter exposes the limiter so the application can schedule Cleanup
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}
