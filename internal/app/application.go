package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"rendezvous/internal/api"
	"rendezvous/internal/auth"
	"rendezvous/internal/cache"
	"rendezvous/internal/clock"
	"rendezvous/internal/config"
	"rendezvous/internal/database"
	"rendezvous/internal/game"
	"rendezvous/internal/handoff"
	"rendezvous/internal/hub"
	"rendezvous/internal/notify"
	"rendezvous/internal/pairing"
	"rendezvous/internal/router"
	"rendezvous/internal/session"
	"rendezvous/internal/websocket"
	pkgdatabase "rendezvous/pkg/database"
	"rendezvous/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config *config.Config
	logger *slog.Logger

	dbManager      *database.Manager
	store          interfaces.RecordStore
	gameRegistry   *websocket.Registry
	playerRegistry *websocket.Registry
	notifyHub      *hub.Hub
	orchestrator   *session.Orchestrator
	rateLimiter    *router.RateLimiter
	handoffService *handoff.Service
	relay          *notify.Relay
	httpServer     *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	addr   string
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Store → Registries → Hub → Pairing → Games → Router → Handoff → HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pairingKey, err := pairingSecret(cfg, logger)
	if err != nil {
		return nil, err
	}
	authKey, err := authSecret(cfg, logger)
	if err != nil {
		return nil, err
	}
	clk := clock.New()

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections

	dbManager, err := database.NewManager(dbConfig, database.Options{RetryDelay: cfg.Database.WriteRetryDelay}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	applied, err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), nil).ApplyMigrations()
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path), slog.Int("migrations_applied", applied))

	// STEP 2: Optionally front the store with the shared cooldown index
	var store interfaces.RecordStore = dbManager
	if cfg.Redis.URL != "" {
		index, err := cache.New(dbManager, cache.Config{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to connect cooldown index: %w", err)
		}
		store = index
		logger.Info("shared cooldown index enabled")
	}

	// STEP 3: Game channels and notification channels are separate registries
	gameRegistry := websocket.NewRegistry()
	playerRegistry := websocket.NewRegistry()

	// STEP 4: Notification hub fans pushes out to player channels
	notifyHub := hub.NewHub(playerRegistry, cfg.Notify.HubBufferSize, logger)

	// STEP 5: Pairing
	codec, err := pairing.NewCodec(pairingKey)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize pairing codec: %w", err)
	}
	pairingService := pairing.NewService(codec, store, notifyHub, clk, pairing.Config{
		TokenTTL:            cfg.Pairing.TokenTTL,
		Cooldown:            cfg.Pairing.Cooldown,
		NearThresholdMeters: cfg.Pairing.NearThresholdMeters,
		ClockSkew:           cfg.Pairing.ClockSkew,
	}, logger)

	// STEP 6: Games and inbound frame routing
	games, err := game.NewRegistry(cfg.Game.DefaultType)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize game registry: %w", err)
	}
	orchestrator := session.NewOrchestrator(gameRegistry, games, session.Options{
		AbandonAfter: cfg.Game.AbandonAfter,
		Clock:        clk,
	}, logger)
	rateLimiter := router.NewRateLimiter(cfg.WebSocket.RateLimit, cfg.WebSocket.RateWindow)
	frameRouter := router.NewRouter(orchestrator, rateLimiter, logger)

	// STEP 7: Credentials and login handoff
	authenticator, err := auth.New(auth.Config{
		Secret: authKey,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	}, clk)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}
	handoffService := handoff.NewService(authenticator, authenticator, playerRegistry, clk, handoff.Config{
		TTL:         cfg.Handoff.TTL,
		MaxAttempts: cfg.Handoff.MaxAttempts,
	}, logger)

	// STEP 8: Store notification relay is optional
	var relay *notify.Relay
	if cfg.Notify.PostgresURL != "" {
		relay = notify.NewRelay(notify.Config{
			URL:                  cfg.Notify.PostgresURL,
			MinReconnectInterval: cfg.Notify.MinReconnectInterval,
			MaxReconnectInterval: cfg.Notify.MaxReconnectInterval,
		}, notifyHub, logger)
	}

	// STEP 9: Setup HTTP routes for both API and WebSocket endpoints
	wsHandler := websocket.NewHandler(authenticator, orchestrator, frameRouter, playerRegistry, handoffService, websocket.HandlerOptions{
		Connection: websocket.ConnectionOptions{
			BufferSize:   cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
		},
		PingInterval:  cfg.WebSocket.PingInterval,
		ReadTimeout:   cfg.WebSocket.ReadTimeout,
		MaxFrameBytes: cfg.WebSocket.MaxFrameBytes,
	}, logger)

	app := &Application{
		config:         cfg,
		logger:         logger,
		dbManager:      dbManager,
		store:          store,
		gameRegistry:   gameRegistry,
		playerRegistry: playerRegistry,
		notifyHub:      notifyHub,
		orchestrator:   orchestrator,
		rateLimiter:    rateLimiter,
		handoffService: handoffService,
		relay:          relay,
	}

	apiServer := api.NewServer(api.Dependencies{
		Resolver:   authenticator,
		Pairing:    pairingService,
		Handoff:    handoffService,
		History:    dbManager,
		Store:      store,
		Stats:      app.statsSources(),
		TokenTTL:   cfg.Pairing.TokenTTL,
		HandoffTTL: cfg.Handoff.TTL,
	}, logger)

	r := mux.NewRouter()
	wsHandler.Routes(r)
	apiServer.Routes(r)

	app.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// statsSources exposes every component's counters to /api/stats
func (app *Application) statsSources() map[string]api.StatsFunc {
	intStats := func(fn func() map[string]int) api.StatsFunc {
		return func() map[string]interface{} {
			out := make(map[string]interface{})
			for k, v := range fn() {
				out[k] = v
			}
			return out
		}
	}
	return map[string]api.StatsFunc{
		"game_channels":   intStats(app.gameRegistry.GetStats),
		"player_channels": intStats(app.playerRegistry.GetStats),
		"games":           app.orchestrator.GetStats,
		"handoff":         app.handoffService.GetStats,
		"notifications":   app.notifyHub.GetStats,
		"rate_limiter": func() map[string]interface{} {
			return map[string]interface{}{"tracked_connections": app.rateLimiter.Tracked()}
		},
	}
}

// pairingSecret decodes the configured secret or generates an ephemeral one
func pairingSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	encoded := cfg.Pairing.Secret
	if encoded == "" {
		generated, err := pairing.GenerateKey()
		if err != nil {
			return nil, err
		}
		logger.Warn("no pairing secret configured; tokens will not survive a restart")
		encoded = generated
	}
	return pairing.DecodeKey(encoded)
}

// authSecret returns the configured signing secret or a random one
func authSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.Auth.Secret != "" {
		return []byte(cfg.Auth.Secret), nil
	}
	key := make([]byte, auth.MinSecretBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}
	logger.Warn("no auth secret configured; issued credentials will not survive a restart")
	return key, nil
}

// Handler returns the HTTP handler serving API and WebSocket routes
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// Start listens on the configured address and begins serving
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, listener)
}

// Serve starts the background components and serves HTTP on listener.
// Startup coordination ensures all components ready before serving:
// hub first, then relay and sweepers, then the HTTP server
func (app *Application) Serve(ctx context.Context, listener net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	app.addr = listener.Addr().String()

	// STEP 1: Start notification hub (background delivery)
	if err := app.notifyHub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start notification hub: %w", err)
	}

	// STEP 2: Store notification relay
	if app.relay != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.relay.Run(runCtx); err != nil {
				app.logger.Error("notification relay stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// STEP 3: Rate limiter cleanup and abandoned game sweep
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		ticker := time.NewTicker(app.config.WebSocket.RateWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.rateLimiter.Cleanup()
				if swept := app.orchestrator.Sweep(); swept > 0 {
					app.logger.Info("swept abandoned games", slog.Int("count", swept))
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	// STEP 4: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		cancel()
		_ = app.notifyHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("rendezvous started", slog.String("addr", app.addr))
		return nil
	case <-ctx.Done():
		cancel()
		_ = app.notifyHub.Stop()
		return ctx.Err()
	}
}

// Addr returns the address the server is listening on once started
func (app *Application) Addr() string {
	if app.addr != "" {
		return app.addr
	}
	return app.httpServer.Addr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → sockets → background → Hub → Store
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down rendezvous")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
	}

	// STEP 2: Hijacked websocket transports are not covered by Shutdown
	closed := app.gameRegistry.CloseAll() + app.playerRegistry.CloseAll()
	app.logger.Info("closed live connections", slog.Int("count", closed))

	// STEP 3: Stop background loops
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()
	if err := app.notifyHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("notification hub shutdown error", slog.String("error", err.Error()))
	}

	// STEP 4: Close store connections
	if err := app.store.Close(); err != nil {
		app.logger.Warn("store shutdown error", slog.String("error", err.Error()))
		return err
	}

	app.logger.Info("rendezvous shutdown complete")
	return nil
}
