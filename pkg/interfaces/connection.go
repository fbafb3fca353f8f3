package interfaces

// Connection represents one live bidirectional client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details
// so the registry and orchestrator can be driven by in-memory fakes
type Connection interface {
	// WriteJSON queues a JSON message for the client (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the transport and releases its goroutines
	Close() error

	// ID returns a process-unique identifier for this connection
	ID() string

	// ChannelKey returns the channel this connection is bound to
	ChannelKey() string

	// Participant returns the participant tag; it may differ from the
	// channel key when a second player joins a channel keyed by the first
	Participant() string
}

// Pusher delivers a message to a single participant or channel.
// FUNCTIONAL DISCOVERY: Login handoff and hub notifications only ever need
// this narrow capability of the registry
type Pusher interface {
	PushTo(key string, message interface{}) (int, error)
}
