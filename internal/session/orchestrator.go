package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rendezvous/internal/clock"
	"rendezvous/internal/game"
	"rendezvous/internal/websocket"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// table is the per-channel critical section: the game instance and the
// channel's connection set are only mutated while mu is held
type table struct {
	mu         sync.Mutex
	engine     game.Engine
	gameType   string
	emptySince time.Time // zero while the channel has a live connection
	dead       bool
}

// Options tunes how long an emptied channel keeps its game for a reconnect
type Options struct {
	AbandonAfter time.Duration
	Clock        clock.Clock
}

// DefaultOptions returns the production reconnect grace period
func DefaultOptions() Options {
	return Options{AbandonAfter: 5 * time.Minute}
}

// Orchestrator forms two-party game channels and runs one game instance
// per channel to completion
// ARCHITECTURAL DISCOVERY: Per-channel tables replace a process-wide lock so
// unrelated channels never contend, while events within a channel are applied
// in arrival order
type Orchestrator struct {
	registry *websocket.Registry
	games    *game.Registry
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	tables map[string]*table

	started   atomic.Int64
	completed atomic.Int64
	abandoned atomic.Int64
}

// NewOrchestrator creates an orchestrator over a game-channel registry
func NewOrchestrator(registry *websocket.Registry, games *game.Registry, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = DefaultOptions().AbandonAfter
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		games:    games,
		opts:     opts,
		logger:   logger.With(slog.String("component", "orchestrator")),
		tables:   make(map[string]*table),
	}
}

// lock returns the locked live table for key, creating it if needed
func (o *Orchestrator) lock(key string) *table {
	for {
		o.mu.Lock()
		t, ok := o.tables[key]
		if !ok {
			t = &table{}
			o.tables[key] = t
		}
		o.mu.Unlock()

		t.mu.Lock()
		if !t.dead {
			return t
		}
		t.mu.Unlock()
	}
}

// release unlocks t, dropping it when the channel is idle. An emptied
// channel with a game in progress starts its reconnect grace period.
func (o *Orchestrator) release(key string, t *table) {
	empty := o.registry.Count(key) == 0
	switch {
	case !empty:
		t.emptySince = time.Time{}
	case t.engine != nil && t.emptySince.IsZero():
		t.emptySince = o.opts.Clock.Now()
	}
	idle := t.engine == nil && empty
	if idle {
		t.dead = true
	}
	t.mu.Unlock()
	if idle {
		o.mu.Lock()
		if o.tables[key] == t {
			delete(o.tables, key)
		}
		o.mu.Unlock()
	}
}

// Join registers conn on its channel and starts a game when the channel
// becomes a full pair. ErrChannelFull is returned unchanged so the
// transport layer can reject in-band.
func (o *Orchestrator) Join(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	key := conn.ChannelKey()
	t := o.lock(key)
	defer o.release(key, t)

	if o.expiredLocked(t) {
		o.discardLocked(key, t, "reconnect grace period elapsed")
	}
	if err := o.registry.Register(conn); err != nil {
		return err
	}
	o.logger.Info("joined channel",
		slog.String("channel", key),
		slog.String("participant", conn.Participant()),
		slog.Int("connections", o.registry.Count(key)))

	switch {
	case t.engine == nil:
		o.startLocked(key, t)
	case o.staleLocked(key, t):
		// Resume only applies when the same pair returns
		o.discardLocked(key, t, "channel holds a different pair")
		o.startLocked(key, t)
	case isPlayer(t.engine, conn.Participant()):
		// A reconnecting participant learns about the game in progress
		o.announceLocked(key, t)
	}
	return nil
}

// Leave unregisters conn. An in-progress game survives so a reconnect can
// resume it.
func (o *Orchestrator) Leave(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	key := conn.ChannelKey()
	t := o.lock(key)
	defer o.release(key, t)

	o.registry.Unregister(conn)
	o.logger.Info("left channel",
		slog.String("channel", key),
		slog.String("participant", conn.Participant()),
		slog.Bool("game_in_progress", t.engine != nil))
}

// HandleMove forwards a move to the channel's game. Moves from outsiders or
// with no game in progress are stale client state and silently ignored.
func (o *Orchestrator) HandleMove(conn interfaces.Connection, choice string) error {
	if conn == nil {
		return ErrNilConnection
	}
	key := conn.ChannelKey()
	t := o.lock(key)
	defer o.release(key, t)

	if t.engine == nil {
		o.logger.Debug("ignoring move without game", slog.String("channel", key), slog.String("participant", conn.Participant()))
		return nil
	}
	if !isPlayer(t.engine, conn.Participant()) {
		o.logger.Debug("ignoring move from non-participant", slog.String("channel", key), slog.String("participant", conn.Participant()))
		return nil
	}

	more, err := t.engine.ProcessMove(conn.Participant(), choice)
	if err != nil {
		return err
	}
	if more {
		return nil
	}

	outcome := t.engine.CheckWinner()
	result := types.ResultEvent{
		Event:   types.EventResult,
		Channel: key,
		Winner:  types.ResultTie,
		Moves:   t.engine.Moves(),
	}
	if outcome.Verdict == game.Winner {
		result.Winner = outcome.Winner
	}
	o.broadcastLocked(key, result)

	// The instance is discarded; the next request_game_state starts a fresh round
	t.engine = nil
	o.completed.Add(1)
	o.logger.Info("round resolved", slog.String("channel", key), slog.String("winner", result.Winner))
	return nil
}

// HandleGameStateRequest re-announces the current game, or starts one when
// the channel holds a full pair and no game exists
func (o *Orchestrator) HandleGameStateRequest(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	key := conn.ChannelKey()
	t := o.lock(key)
	defer o.release(key, t)

	if t.engine != nil && o.staleLocked(key, t) {
		o.discardLocked(key, t, "channel holds a different pair")
	}
	if t.engine != nil {
		o.announceLocked(key, t)
		return nil
	}
	o.startLocked(key, t)
	return nil
}

// staleLocked reports whether the channel holds two distinct live
// participants that are not the pair the current game was started for
func (o *Orchestrator) staleLocked(key string, t *table) bool {
	live := make(map[string]bool, websocket.MaxConnectionsPerChannel)
	for _, conn := range o.registry.Connections(key) {
		live[conn.Participant()] = true
	}
	if len(live) != 2 {
		return false
	}
	players := t.engine.Players()
	return !live[players[0]] || !live[players[1]]
}

// expiredLocked reports whether t has held a game in an empty channel for
// longer than the reconnect grace period
func (o *Orchestrator) expiredLocked(t *table) bool {
	return t.engine != nil && !t.emptySince.IsZero() &&
		o.opts.Clock.Now().Sub(t.emptySince) >= o.opts.AbandonAfter
}

func (o *Orchestrator) discardLocked(key string, t *table, reason string) {
	players := t.engine.Players()
	t.engine = nil
	t.emptySince = time.Time{}
	o.abandoned.Add(1)
	o.logger.Info("game abandoned",
		slog.String("channel", key),
		slog.String("first", players[0]),
		slog.String("second", players[1]),
		slog.String("reason", reason))
}

// Sweep discards games whose channel stayed empty past the reconnect grace
// period and drops their tables. It returns how many games were discarded.
func (o *Orchestrator) Sweep() int {
	o.mu.Lock()
	keys := make([]string, 0, len(o.tables))
	for key := range o.tables {
		keys = append(keys, key)
	}
	o.mu.Unlock()

	swept := 0
	for _, key := range keys {
		o.mu.Lock()
		t, ok := o.tables[key]
		o.mu.Unlock()
		if !ok {
			continue
		}
		t.mu.Lock()
		if t.dead || !o.expiredLocked(t) || o.registry.Count(key) > 0 {
			t.mu.Unlock()
			continue
		}
		o.discardLocked(key, t, "reconnect grace period elapsed")
		swept++
		o.release(key, t)
	}
	return swept
}

func isPlayer(engine game.Engine, participant string) bool {
	players := engine.Players()
	return participant == players[0] || participant == players[1]
}

// startLocked instantiates a game when exactly two connections with
// distinct participants are present
func (o *Orchestrator) startLocked(key string, t *table) {
	conns := o.registry.Connections(key)
	if len(conns) != websocket.MaxConnectionsPerChannel {
		return
	}
	first, second := conns[0].Participant(), conns[1].Participant()
	if first == second {
		o.logger.Debug("channel holds two connections for one participant", slog.String("channel", key))
		return
	}

	engine, err := o.games.New("", first, second)
	if err != nil {
		o.logger.Error("failed to create game", slog.String("channel", key), slog.String("error", err.Error()))
		return
	}
	t.engine = engine
	t.gameType = o.games.DefaultType()
	o.started.Add(1)
	o.logger.Info("game started",
		slog.String("channel", key),
		slog.String("game_type", t.gameType),
		slog.String("first", first),
		slog.String("second", second))
	o.announceLocked(key, t)
}

func (o *Orchestrator) announceLocked(key string, t *table) {
	players := t.engine.Players()
	o.broadcastLocked(key, types.StartGameEvent{
		Event:    types.EventStartGame,
		Channel:  key,
		GameType: t.gameType,
		Players:  []string{players[0], players[1]},
	})
}

// broadcastLocked delivers at most once; failures are logged and not retried
func (o *Orchestrator) broadcastLocked(key string, message interface{}) {
	for _, failure := range o.registry.Broadcast(key, message) {
		o.logger.Warn("broadcast delivery failed",
			slog.String("channel", key),
			slog.String("participant", failure.Participant),
			slog.String("error", failure.Err.Error()))
	}
}

// ActiveGame returns the players of the game on key, if any
func (o *Orchestrator) ActiveGame(key string) ([2]string, bool) {
	o.mu.Lock()
	t, ok := o.tables[key]
	o.mu.Unlock()
	if !ok {
		return [2]string{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine == nil {
		return [2]string{}, false
	}
	return t.engine.Players(), true
}

// GetStats returns orchestrator statistics
func (o *Orchestrator) GetStats() map[string]interface{} {
	o.mu.Lock()
	tables := make([]*table, 0, len(o.tables))
	for _, t := range o.tables {
		tables = append(tables, t)
	}
	o.mu.Unlock()

	active := 0
	for _, t := range tables {
		t.mu.Lock()
		if t.engine != nil {
			active++
		}
		t.mu.Unlock()
	}
	return map[string]interface{}{
		"active_games":    active,
		"games_started":   o.started.Load(),
		"games_completed": o.completed.Load(),
		"games_abandoned": o.abandoned.Load(),
		"active_tables":   len(tables),
		"game_types":      o.games.Types(),
	}
}
