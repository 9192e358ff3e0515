// Package app wires every schoolhub component into one runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schoolhub/internal/api"
	"schoolhub/internal/auth"
	"schoolhub/internal/bus"
	"schoolhub/internal/config"
	"schoolhub/internal/database"
	"schoolhub/internal/hub"
	"schoolhub/internal/presence"
	"schoolhub/internal/router"
	"schoolhub/internal/websocket"
	"schoolhub/pkg/interfaces"
	pkgdatabase "schoolhub/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	dbManager     *database.Manager
	authenticator *auth.Authenticator
	eventHub      *hub.Hub
	redisClient   *redis.Client
	subscriber    *bus.Subscriber
	dispatcher    interfaces.NotificationDispatcher
	httpServer    *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopBus  context.CancelFunc
	busDone  chan struct{}
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Auth → Registry → Presence → Router → Hub → Dispatcher → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Notification store; migrations are applied by the manager
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Credential verification shared by the socket and REST endpoints
	authenticator, err := auth.NewAuthenticator(cfg.Auth.Secret, auth.WithLeeway(cfg.Auth.Leeway))
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	// STEP 3-6: Rooms, presence, routing and lifecycle
	registry := websocket.NewRegistry()
	tracker := presence.NewTracker(registry, logger)
	limiter := router.NewRateLimiter(cfg.RateLimit.EventsPerMinute)
	eventRouter := router.NewRouter(registry, tracker, dbManager, limiter, logger)
	eventHub := hub.NewHub(registry, tracker, eventRouter, hub.Config{
		CloseSuperseded: cfg.WebSocket.CloseSuperseded,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	}, logger)

	app := &Application{
		config:        cfg,
		logger:        logger,
		dbManager:     dbManager,
		authenticator: authenticator,
		eventHub:      eventHub,
		dispatcher:    eventHub,
	}

	// STEP 7: Cross-process dispatch when Redis is configured
	if cfg.Redis.URL != "" {
		if err := app.setupBus(); err != nil {
			_ = dbManager.Close()
			return nil, err
		}
	}

	// STEP 8: HTTP surface
	origins := websocket.NewOriginPolicy(cfg.CORS.AllowedOrigins, cfg.CORS.DevMode, logger)
	apiServer := api.NewServer(dbManager, app.dispatcher, authenticator, eventHub, origins, logger)
	wsHandler := websocket.NewHandler(origins, authenticator, eventHub, websocket.ConnectionConfig{
		BufferSize:     cfg.WebSocket.BufferSize,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle(cfg.WebSocket.Path, wsHandler)

	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}
	return app, nil
}

func (app *Application) setupBus() error {
	client, err := bus.NewClient(context.Background(), app.config.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	publisher, err := bus.NewPublisher(client, app.config.Redis.Channel, app.logger)
	if err != nil {
		_ = client.Close()
		return err
	}
	subscriber, err := bus.NewSubscriber(client, app.config.Redis.Channel, app.eventHub, app.logger)
	if err != nil {
		_ = client.Close()
		return err
	}

	app.redisClient = client
	app.subscriber = subscriber
	app.dispatcher = publisher
	app.logger.Info("redis dispatch bridge enabled", zap.String("channel", app.config.Redis.Channel))
	return nil
}

// Start listens on the configured address and serves in the background
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.StartOn(ctx, ln)
}

// StartOn serves on an existing listener
// Startup coordination ensures all components ready before serving:
// hub first, then the dispatch subscriber, then the HTTP server
func (app *Application) StartOn(ctx context.Context, ln net.Listener) error {
	if err := app.eventHub.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	app.mu.Lock()
	app.listener = ln
	if app.subscriber != nil {
		busCtx, cancel := context.WithCancel(ctx)
		app.stopBus = cancel
		app.busDone = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			if err := app.subscriber.Run(busCtx); err != nil {
				app.logger.Error("dispatch subscriber failed", zap.Error(err))
			}
		}(app.busDone)
	}
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("schoolhub started",
		zap.String("addr", ln.Addr().String()),
		zap.String("websocket_path", app.config.WebSocket.Path))
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Bus → Hub → Redis → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down schoolhub")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Stop consuming remote dispatch commands
	app.mu.Lock()
	stopBus, busDone := app.stopBus, app.busDone
	app.mu.Unlock()
	if stopBus != nil {
		stopBus()
		select {
		case <-busDone:
		case <-ctx.Done():
		}
	}

	// STEP 3: Close every socket; their close hooks clear presence and rooms
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	// STEP 4: External resources
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.logger.Info("schoolhub shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the listening address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// Hub returns the connection hub.
func (app *Application) Hub() *hub.Hub {
	return app.eventHub
}

// Dispatcher returns the dispatcher the REST boundary uses: the hub, or the
// Redis publisher when the bridge is enabled.
func (app *Application) Dispatcher() interfaces.NotificationDispatcher {
	return app.dispatcher
}

// Store returns the notification store.
func (app *Application) Store() interfaces.NotificationStore {
	return app.dbManager
}

// Authenticator returns the credential verifier, used to mint test and dev tokens.
func (app *Application) Authenticator() *auth.Authenticator {
	return app.authenticator
}

// ShutdownTimeout is the grace period the entry point gives Stop.
func (app *Application) ShutdownTimeout() time.Duration {
	return app.config.HTTP.ShutdownTimeout
}
