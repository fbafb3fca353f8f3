package websocket

import (
	"sync"

	"rendezvous/pkg/interfaces"
)

// MaxConnectionsPerChannel is the channel capacity
const MaxConnectionsPerChannel = 2

// channel holds the live connections for one channel key.
// TECHNICAL DISCOVERY: Each channel carries its own mutex so unrelated
// channels never contend; the registry-wide lock only guards the map itself
type channel struct {
	mu    sync.Mutex
	conns []interfaces.Connection
	dead  bool // set once the channel has been emptied and is being removed
}

// DeliveryFailure records one connection a broadcast could not reach
type DeliveryFailure struct {
	ConnectionID string
	Participant  string
	Err          error
}

// Registry tracks live connections grouped by channel key
// ARCHITECTURAL DISCOVERY: Pure connection management without game logic
// maintains clean separation between connection tracking and orchestration
type Registry struct {
	mu            sync.RWMutex
	channels      map[string]*channel
	byParticipant map[string]map[string]interfaces.Connection // participant -> connID -> Connection
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		channels:      make(map[string]*channel),
		byParticipant: make(map[string]map[string]interfaces.Connection),
	}
}

// acquire returns the locked live channel for key, creating it if needed
func (r *Registry) acquire(key string) *channel {
	for {
		r.mu.Lock()
		ch, ok := r.channels[key]
		if !ok {
			ch = &channel{}
			r.channels[key] = ch
		}
		r.mu.Unlock()

		ch.mu.Lock()
		if !ch.dead {
			return ch
		}
		// Lost a race with the removal of an emptied channel; retry
		ch.mu.Unlock()
	}
}

// lookup returns the channel for key without creating it
func (r *Registry) lookup(key string) *channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[key]
}

// Register adds conn to its channel if the channel has room.
// A full channel yields ErrChannelFull and the caller must close the transport.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	key := conn.ChannelKey()
	if key == "" {
		return ErrMissingChannelKey
	}

	ch := r.acquire(key)
	defer ch.mu.Unlock()

	for _, existing := range ch.conns {
		if existing.ID() == conn.ID() {
			return nil
		}
	}
	if len(ch.conns) >= MaxConnectionsPerChannel {
		return ErrChannelFull
	}
	ch.conns = append(ch.conns, conn)

	r.mu.Lock()
	tagged, ok := r.byParticipant[conn.Participant()]
	if !ok {
		tagged = make(map[string]interfaces.Connection)
		r.byParticipant[conn.Participant()] = tagged
	}
	tagged[conn.ID()] = conn
	r.mu.Unlock()

	return nil
}

// Unregister removes conn from its channel. An emptied channel is removed
// from the registry. Unregistering an unknown connection is a no-op.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	key := conn.ChannelKey()
	ch := r.lookup(key)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	removed := false
	for i, existing := range ch.conns {
		if existing.ID() == conn.ID() {
			ch.conns = append(ch.conns[:i], ch.conns[i+1:]...)
			removed = true
			break
		}
	}
	empty := len(ch.conns) == 0
	if empty {
		ch.dead = true
	}
	ch.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if empty && r.channels[key] == ch {
		delete(r.channels, key)
	}
	if removed {
		if tagged, ok := r.byParticipant[conn.Participant()]; ok {
			delete(tagged, conn.ID())
			if len(tagged) == 0 {
				delete(r.byParticipant, conn.Participant())
			}
		}
	}
}

// Connections returns a snapshot of the connections in a channel
func (r *Registry) Connections(key string) []interfaces.Connection {
	ch := r.lookup(key)
	if ch == nil {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]interfaces.Connection(nil), ch.conns...)
}

// Count returns the number of live connections in a channel
func (r *Registry) Count(key string) int {
	ch := r.lookup(key)
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.conns)
}

// Broadcast delivers message to every connection in the channel.
// FUNCTIONAL DISCOVERY: Delivery is best-effort per connection; failures are
// returned as a list and never stop delivery to the remaining connections
func (r *Registry) Broadcast(key string, message interface{}) []DeliveryFailure {
	var failures []DeliveryFailure
	for _, conn := range r.Connections(key) {
		if err := conn.WriteJSON(message); err != nil {
			failures = append(failures, DeliveryFailure{
				ConnectionID: conn.ID(),
				Participant:  conn.Participant(),
				Err:          err,
			})
		}
	}
	return failures
}

// PushTo delivers message to the connections tagged with key as participant,
// falling back to the connections of the channel named key. It returns the
// number of connections the message was queued on.
func (r *Registry) PushTo(key string, message interface{}) (int, error) {
	targets := r.participantConnections(key)
	if len(targets) == 0 {
		targets = r.Connections(key)
	}
	if len(targets) == 0 {
		return 0, ErrNoRecipient
	}

	delivered := 0
	var lastErr error
	for _, conn := range targets {
		if err := conn.WriteJSON(message); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, lastErr
	}
	return delivered, nil
}

func (r *Registry) participantConnections(participant string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tagged := r.byParticipant[participant]
	conns := make([]interfaces.Connection, 0, len(tagged))
	for _, conn := range tagged {
		conns = append(conns, conn)
	}
	return conns
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	participants := len(r.byParticipant)
	r.mu.RUnlock()

	total := 0
	for _, ch := range channels {
		ch.mu.Lock()
		total += len(ch.conns)
		ch.mu.Unlock()
	}

	return map[string]int{
		"total_connections":   total,
		"active_channels":     len(channels),
		"active_participants": participants,
	}
}

// CloseAll closes every registered connection. Each connection's read pump
// then unregisters it through the usual path.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()

	closed := 0
	for _, ch := range channels {
		ch.mu.Lock()
		conns := append([]interfaces.Connection(nil), ch.conns...)
		ch.mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
			closed++
		}
	}
	return closed
}
