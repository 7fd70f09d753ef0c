// Package app constructs and owns every component of the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"focusboard/internal/api"
	"focusboard/internal/attendance"
	"focusboard/internal/auth"
	"focusboard/internal/config"
	"focusboard/internal/database"
	"focusboard/internal/hub"
	"focusboard/internal/metrics"
	"focusboard/internal/registry"
	"focusboard/internal/reports"
	"focusboard/internal/router"
	"focusboard/internal/session"
	"focusboard/internal/websocket"
)

// limiterSweep is how often idle rate limiter entries are dropped.
const limiterSweep = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config         *config.Config
	logger         *slog.Logger
	metrics        *metrics.Collector
	dbManager      *database.Manager
	authService    *auth.Service
	sessionManager *session.Manager
	registry       *registry.Registry
	reportQueue    *reports.Queue
	limiter        *router.RateLimiter
	wsHandler      *websocket.Handler
	apiServer      *api.Server
	httpServer     *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Auth → Session → Registry → Hub → Reports → Attendance → Router → WebSocket → API → HTTP
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

	// STEP 1: Database (foundation layer); migrations run inside NewManager
	if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbManager, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	m := metrics.New()

	// STEP 2: Credentials and access decisions
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, dbManager)
	sessionManager := session.NewManager(dbManager, logger)

	// STEP 3: Live session state and fan-out
	reg := registry.New()
	messageHub := hub.NewHub(reg, m, logger)

	// STEP 4: Persistence side effects
	reportQueue := reports.NewQueue(dbManager, cfg.Reports.QueueSize, m, logger)
	synchronizer := attendance.NewSynchronizer(dbManager, sessionManager, reportQueue, logger)

	// STEP 5: Message dispatch
	limiter := router.NewRateLimiter(cfg.WebSocket.RateLimitPerMinute, time.Minute)
	messageRouter := router.NewRouter(messageHub, synchronizer, sessionManager, limiter, m, logger)

	// STEP 6: Connection handler and HTTP surface
	wsHandler := websocket.NewHandler(websocket.Dependencies{
		Verifier:   authService,
		Users:      dbManager,
		Authorizer: sessionManager,
		Registry:   reg,
		Hub:        messageHub,
		Router:     messageRouter,
		Attendance: synchronizer,
	}, cfg.WebSocket, m, logger)

	apiServer := api.NewServer(api.Dependencies{
		Auth:       authService,
		Users:      dbManager,
		Authorizer: sessionManager,
		Registry:   reg,
		Sessions:   wsHandler,
		Health:     dbManager,
	}, m, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		logger:         logger.With("component", "app"),
		metrics:        m,
		dbManager:      dbManager,
		authService:    authService,
		sessionManager: sessionManager,
		registry:       reg,
		reportQueue:    reportQueue,
		limiter:        limiter,
		wsHandler:      wsHandler,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start binds the listener and begins serving in the background.
// Background workers start first so the first connection finds them running.
func (app *Application) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	// STEP 1: Background workers
	app.reportQueue.Start(ctx)
	app.wg.Add(1)
	go app.sweepLimiter(ctx)

	// STEP 2: HTTP server (accepts connections)
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.cancel()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln
	app.logger.Info("focusboard listening", "addr", ln.Addr().String())

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (app *Application) sweepLimiter(ctx context.Context) {
	defer app.wg.Done()
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSocket → Reports → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Close hijacked WebSocket connections; their leave bookkeeping
	// needs the database, so it finishes first
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}

	// STEP 3: Drain pending report requests
	if err := app.reportQueue.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	// STEP 4: Close database connections
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the HTTP handler serving every route.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Database exposes the datastore for seeding and inspection.
func (app *Application) Database() *database.Manager {
	return app.dbManager
}

// Auth exposes the token service.
func (app *Application) Auth() *auth.Service {
	return app.authService
}

// Metrics exposes the shared collector.
func (app *Application) Metrics() *metrics.Collector {
	return app.metrics
}
