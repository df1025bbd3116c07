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

	"go.uber.org/zap"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/room"
	"chatrelay/internal/websocket"
	pkgdatabase "chatrelay/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	journal    *database.Manager
	registry   *room.Registry
	apiServer  *api.Server
	httpServer *http.Server

	listener    net.Listener
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	stopOnce    sync.Once
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Verifier → Registry → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Event journal, migrations applied on open
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.QueryTimeout = cfg.Database.Timeout
	dbConfig.QueueSize = cfg.Database.QueueSize

	journal, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event journal: %w", err)
	}

	// STEP 2: Token verifier. A missing key or secret degrades, it does not abort
	verifier, err := auth.NewClerkVerifier(auth.ClerkConfig{
		PublicKey:         cfg.Auth.ClerkJWTKey,
		AuthorizedParties: cfg.Auth.AuthorizedParties,
		Leeway:            cfg.Auth.Leeway,
	})
	if err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	if !verifier.Configured() {
		logger.Warn("CLERK_JWT_KEY not set: every user token will be rejected")
	}
	if cfg.Auth.SharedSecret == "" {
		logger.Warn("SHARED_SECRET not set: bridge requests will fail with 500")
	}

	// STEP 3: Room registry
	registry := room.NewRegistry(room.Options{
		Verifier:         verifier,
		SharedSecret:     cfg.Auth.SharedSecret,
		TypingTimeout:    cfg.Room.TypingTimeout,
		AIRateLimit:      cfg.Room.AIRateLimit,
		AIRateWindow:     cfg.Room.AIRateWindow,
		MaxMessageLength: cfg.Room.MaxMessageLength,
		IdleTimeout:      cfg.Room.IdleTimeout,
		CommandBuffer:    cfg.Room.CommandBuffer,
		Journal:          journal,
		Logger:           logger.Named("room"),
	})

	// STEP 4: WebSocket transport
	sockets := websocket.NewHandler(registry, websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger.Named("websocket"))

	// STEP 5: HTTP surface
	apiServer := api.NewServer(registry, sockets, journal, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		journal:    journal,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start binds the listener, serves HTTP in the background and starts the
// idle room sweeper. Bind errors are returned directly.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.sweepCancel = cancel
	app.sweepDone = make(chan struct{})
	go func() {
		defer close(app.sweepDone)
		app.registry.RunSweeper(sweepCtx, app.config.Room.SweepInterval)
	}()

	app.logger.Info("chatrelay started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the application
// Shutdown order: HTTP → Sweeper → Rooms → Journal
func (app *Application) Stop(ctx context.Context) error {
	var errs []error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down chatrelay")

		// STEP 1: Stop accepting requests
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		// STEP 2: Stop the sweeper
		if app.sweepCancel != nil {
			app.sweepCancel()
			<-app.sweepDone
		}

		// STEP 3: Stop rooms, cancel typing timers, close sockets
		app.registry.Close()

		// STEP 4: Flush and close the journal
		if err := app.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal close: %w", err))
		}

		app.logger.Info("chatrelay shutdown complete")
	})
	return errors.Join(errs...)
}

// Addr returns the bound address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Journal exposes the event journal.
func (app *Application) Journal() *database.Manager {
	return app.journal
}
