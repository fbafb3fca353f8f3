package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Notifier queues an event for a player channel
type Notifier interface {
	Notify(key string, event interface{}) error
}

// Config tunes the Postgres listener connection
type Config struct {
	URL                  string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

// DefaultConfig returns the production reconnect policy without a URL
func DefaultConfig() Config {
	return Config{
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// ErrNoURL is returned when the relay is started without a database URL
var ErrNoURL = errors.New("notify: postgres url is required")

// Relay subscribes to store notifications and forwards them to players
// ARCHITECTURAL DISCOVERY: The relay only translates; delivery goes through the
// hub so a slow client never stalls the LISTEN connection
type Relay struct {
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
}

// NewRelay creates a relay that forwards through notifier
func NewRelay(cfg Config, notifier Notifier, logger *slog.Logger) *Relay {
	def := DefaultConfig()
	if cfg.MinReconnectInterval <= 0 {
		cfg.MinReconnectInterval = def.MinReconnectInterval
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = def.MaxReconnectInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify")),
	}
}

// Run listens until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	if r.cfg.URL == "" {
		return ErrNoURL
	}

	listener := pq.NewListener(r.cfg.URL, r.cfg.MinReconnectInterval, r.cfg.MaxReconnectInterval, r.onEvent)
	defer listener.Close()

	for _, channel := range []string{ChannelQRScan, ChannelPlayerInteraction} {
		if err := listener.Listen(channel); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	r.logger.Info("listening for store notifications")

	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case n := <-listener.Notify:
			// A nil notification follows a reconnect; events sent while
			// disconnected are lost, which at-most-once delivery accepts
			if n == nil {
				continue
			}
			r.Handle(n.Channel, n.Extra)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				r.logger.Warn("listener ping failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Handle translates one notification and queues the resulting pushes.
// Malformed payloads are dropped with a warning.
func (r *Relay) Handle(channel, payload string) {
	deliveries, err := Translate(channel, payload)
	if err != nil {
		r.logger.Warn("dropped store notification",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}
	for _, d := range deliveries {
		if err := r.notifier.Notify(d.Key, d.Event); err != nil {
			r.logger.Warn("failed to queue notification",
				slog.String("key", d.Key),
				slog.String("error", err.Error()))
		}
	}
}

func (r *Relay) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		r.logger.Info("listener connected")
	case pq.ListenerEventDisconnected:
		r.logger.Warn("listener disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		r.logger.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		r.logger.Warn("listener connection attempt failed", slog.Any("error", err))
	}
}
