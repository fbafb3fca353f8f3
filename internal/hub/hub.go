package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rendezvous/internal/websocket"
	"rendezvous/pkg/interfaces"
)

// DefaultBufferSize bounds the notification queue
const DefaultBufferSize = 1000

// Notification is one queued push to a player or session channel
// FUNCTIONAL DISCOVERY: Context preservation lets the loop log where a
// notification came from and how long it waited
type Notification struct {
	Key      string
	Event    interface{}
	QueuedAt time.Time
}

// Hub serializes asynchronous pushes to notification channels.
// ARCHITECTURAL DISCOVERY: Producers (pairing validation, store listeners) never
// block on client sockets; a single loop owns delivery
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel prevents blocking during bursts
	notifyChannel   chan *Notification
	shutdownChannel chan struct{}

	pusher interfaces.Pusher
	logger *slog.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex

	delivered   atomic.Int64
	undelivered atomic.Int64
}

// NewHub creates a hub delivering through pusher
func NewHub(pusher interfaces.Pusher, bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		notifyChannel:   make(chan *Notification, bufferSize),
		shutdownChannel: make(chan struct{}),
		pusher:          pusher,
		logger:          logger.With(slog.String("component", "hub")),
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine keeps delivery order per producer
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("starting notification hub")
	go h.run(ctx)
	return nil
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	h.logger.Info("stopping notification hub")

	// TECHNICAL DISCOVERY: Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

// Notify queues event for the channel or participant named key
func (h *Hub) Notify(key string, event interface{}) error {
	if key == "" {
		return ErrMissingKey
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send prevents producer lockup
	select {
	case h.notifyChannel <- &Notification{Key: key, Event: event, QueuedAt: time.Now()}:
		return nil
	default:
		return ErrNotifyChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer h.logger.Info("notification hub stopped")

	for {
		select {
		case n := <-h.notifyChannel:
			h.deliver(n)
		case <-h.shutdownChannel:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliver pushes at most once; a missing recipient is not an error
func (h *Hub) deliver(n *Notification) {
	count, err := h.pusher.PushTo(n.Key, n.Event)
	if err != nil {
		h.undelivered.Add(1)
		level := slog.LevelWarn
		if errors.Is(err, websocket.ErrNoRecipient) {
			level = slog.LevelDebug
		}
		h.logger.Log(context.Background(), level, "notification not delivered",
			slog.String("key", n.Key),
			slog.String("error", err.Error()))
		return
	}
	h.delivered.Add(1)
	h.logger.Debug("notification delivered",
		slog.String("key", n.Key),
		slog.Int("connections", count),
		slog.Duration("queued_for", time.Since(n.QueuedAt)))
}

// IsRunning reports whether the loop accepts notifications
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"queued":      len(h.notifyChannel),
		"delivered":   h.delivered.Load(),
		"undelivered": h.undelivered.Load(),
	}
}
