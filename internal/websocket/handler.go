package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Mobile clients do not send a meaningful Origin header
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// GameSessions is the orchestrator surface the game socket needs
type GameSessions interface {
	Join(conn interfaces.Connection) error
	Leave(conn interfaces.Connection)
}

// FrameRouter dispatches one inbound text frame from a game connection
type FrameRouter interface {
	Route(ctx context.Context, conn interfaces.Connection, data []byte) error
}

// LoginSessions reports whether a login handoff session is still pending
type LoginSessions interface {
	Exists(sessionID string) bool
}

// HandlerOptions tunes heartbeat and framing for every socket kind
type HandlerOptions struct {
	Connection    ConnectionOptions
	PingInterval  time.Duration
	ReadTimeout   time.Duration
	MaxFrameBytes int64
}

// DefaultHandlerOptions returns the production heartbeat settings
func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		Connection:    DefaultConnectionOptions(),
		PingInterval:  30 * time.Second,
		ReadTimeout:   60 * time.Second,
		MaxFrameBytes: 4096,
	}
}

// Handler upgrades the three websocket endpoints: game channels, player
// notification channels and login handoff channels
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// game semantics live behind GameSessions and FrameRouter
type Handler struct {
	resolver interfaces.IdentityResolver
	games    GameSessions
	frames   FrameRouter
	players  *Registry
	logins   LoginSessions
	opts     HandlerOptions
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(resolver interfaces.IdentityResolver, games GameSessions, frames FrameRouter, players *Registry, logins LoginSessions, opts HandlerOptions, logger *slog.Logger) *Handler {
	def := DefaultHandlerOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = def.MaxFrameBytes
	}
	if opts.Connection.BufferSize <= 0 {
		opts.Connection.BufferSize = def.Connection.BufferSize
	}
	if opts.Connection.WriteTimeout <= 0 {
		opts.Connection.WriteTimeout = def.Connection.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver: resolver,
		games:    games,
		frames:   frames,
		players:  players,
		logins:   logins,
		opts:     opts,
		logger:   logger.With(slog.String("component", "websocket")),
	}
}

// Routes mounts the websocket endpoints on r
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/ws/game/{channel}", h.HandleGame).Methods(http.MethodGet)
	r.HandleFunc("/ws/player/{player_id}", h.HandlePlayer).Methods(http.MethodGet)
	r.HandleFunc("/ws/login/{session_id}", h.HandleLogin).Methods(http.MethodGet)
}

// HandleGame joins an authenticated participant to a two-party game channel.
// ARCHITECTURAL DISCOVERY: Multi-stage validation (path -> credential -> upgrade -> join)
// keeps invalid requests on plain HTTP errors; only capacity rejections
// are reported in-band because they are decided after the upgrade
func (h *Handler) HandleGame(w http.ResponseWriter, r *http.Request) {
	channelKey := mux.Vars(r)["channel"]
	if !types.IsValidPlayerID(channelKey) {
		http.Error(w, "Invalid channel", http.StatusBadRequest)
		return
	}

	participant, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn := NewConnection(raw, channelKey, participant, h.opts.Connection)

	if err := h.games.Join(conn); err != nil {
		if errors.Is(err, ErrChannelFull) {
			h.logger.Info("channel full, rejecting connection",
				slog.String("channel", channelKey),
				slog.String("participant", participant))
			_ = conn.CloseWith(types.RejectedEvent{
				Event:   types.EventRejected,
				Reason:  types.RejectReasonChannelFull,
				Channel: channelKey,
			})
			return
		}
		h.logger.Error("join failed", slog.String("channel", channelKey), slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	go h.serve(conn, func(data []byte) {
		if err := h.frames.Route(conn.ctx, conn, data); err != nil {
			// Protocol errors drop the frame; the connection stays open
			h.logger.Warn("dropped frame",
				slog.String("channel", channelKey),
				slog.String("participant", participant),
				slog.String("error", err.Error()))
		}
	}, func() {
		h.games.Leave(conn)
	})
}

// HandlePlayer opens the notification channel for one authenticated player
func (h *Handler) HandlePlayer(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["player_id"]
	if !types.IsValidPlayerID(playerID) {
		http.Error(w, "Invalid player_id", http.StatusBadRequest)
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if identity != playerID {
		http.Error(w, ErrIdentityMismatch.Error(), http.StatusForbidden)
		return
	}

	h.openPassive(w, r, playerID)
}

// HandleLogin opens the channel a waiting device listens on for login_success.
// FUNCTIONAL DISCOVERY: The socket carries no credential; knowledge of a
// live session id is the only capability required
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if sessionID == "" || h.logins == nil || !h.logins.Exists(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.openPassive(w, r, sessionID)
}

// openPassive registers a receive-only socket on the notification registry
func (h *Handler) openPassive(w http.ResponseWriter, r *http.Request, key string) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn := NewConnection(raw, key, key, h.opts.Connection)

	if err := h.players.Register(conn); err != nil {
		_ = conn.CloseWith(types.RejectedEvent{
			Event:   types.EventRejected,
			Reason:  types.RejectReasonChannelFull,
			Channel: key,
		})
		return
	}

	go h.serve(conn, nil, func() {
		h.players.Unregister(conn)
	})
}

// authenticate resolves the bearer credential, falling back to the
// token query parameter for browser clients that cannot set headers
func (h *Handler) authenticate(r *http.Request) (string, error) {
	credential := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		credential = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if credential == "" {
		credential = r.URL.Query().Get("token")
	}
	if credential == "" {
		return "", ErrMissingCredential
	}
	return h.resolver.ResolveIdentity(r.Context(), credential)
}

// serve runs the heartbeat and read pump for one connection until the
// transport fails. onFrame may be nil for receive-only sockets.
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles both heartbeat
// and message reading to prevent goroutine proliferation and resource leaks
func (h *Handler) serve(conn *Connection, onFrame func([]byte), onClose func()) {
	defer func() {
		// Deferred cleanup releases the registry slot even if frame handling panics
		onClose()
		_ = conn.Close()
	}()

	raw := conn.conn
	raw.SetReadLimit(h.opts.MaxFrameBytes)
	if err := raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	// TECHNICAL DISCOVERY: WriteControl is safe to call concurrently with the
	// writer goroutine, so pings bypass the write queue
	ticker := time.NewTicker(h.opts.PingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.Connection.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket closed unexpectedly",
					slog.String("channel", conn.ChannelKey()),
					slog.String("error", err.Error()))
			}
			return
		}
		if messageType == websocket.TextMessage && onFrame != nil {
			onFrame(data)
		}
	}
}
