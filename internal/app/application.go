package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"whiteboard/internal/api"
	"whiteboard/internal/config"
	"whiteboard/internal/discovery"
	"whiteboard/internal/drawing"
	"whiteboard/internal/hub"
	"whiteboard/internal/journal"
	"whiteboard/internal/relay"
	"whiteboard/internal/rooms"
	"whiteboard/internal/websocket"
	"whiteboard/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	rooms      *rooms.Registry
	drawing    *drawing.Log
	registry   *websocket.Registry
	journal    *journal.Journal // nil when disabled
	relay      *relay.Relay
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	listener   net.Listener
	advertiser *discovery.Advertiser
	serveErr   chan error
	stopOnce   sync.Once
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Journal → Rooms/Drawing → Registry → Relay → Hub → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Optional activity journal (foundation layer)
	var (
		jrnl     *journal.Journal
		recorder interfaces.Journal
		activity api.ActivityLog
	)
	if cfg.JournalEnabled() {
		var err error
		jrnl, err = journal.Open(journal.Options{
			Path:       cfg.Journal.Path,
			BufferSize: cfg.Journal.BufferSize,
			Timeout:    cfg.Journal.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		// TECHNICAL DISCOVERY: Assign only when enabled so a disabled journal
		// stays a nil interface rather than a typed nil pointer
		recorder = jrnl
		activity = jrnl
	}

	// STEP 2: In-memory room state
	roomRegistry := rooms.NewRegistry()
	drawingLog := drawing.NewLog()

	// STEP 3: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry()

	// STEP 4: Relay with its dependencies
	sessionRelay := relay.New(roomRegistry, drawingLog, registry, recorder, relay.Options{
		RateLimit:  cfg.WebSocket.RateLimit,
		RateWindow: cfg.WebSocket.RateWindow,
	})

	// STEP 5: Hub serializes every relay handler
	messageHub := hub.NewHub(sessionRelay)

	// STEP 6: WebSocket transport feeds the hub
	wsHandler := websocket.NewHandler(registry, messageHub, websocket.Options{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigin:   cfg.HTTP.FrontendOrigin,
	})

	// STEP 7: API server owns every route, /ws included
	apiServer := api.NewServer(roomRegistry, drawingLog, registry, activity,
		http.HandlerFunc(wsHandler.HandleWebSocket),
		api.Options{FrontendOrigin: cfg.HTTP.FrontendOrigin})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		rooms:      roomRegistry,
		drawing:    drawingLog,
		registry:   registry,
		journal:    jrnl,
		relay:      sessionRelay,
		messageHub: messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start binds the configured address and begins serving
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting whiteboard relay on %s", app.httpServer.Addr)

	// Bind before serving so startup errors are reported here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, listener)
}

// Serve begins application execution on an existing listener
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Serve(ctx context.Context, listener net.Listener) error {
	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	app.listener = listener

	// STEP 2: Accept connections
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// STEP 3: Optional LAN advertisement on the bound port
	if app.config.Discovery.Enabled {
		port := listener.Addr().(*net.TCPAddr).Port
		advertiser, err := discovery.Advertise(app.config.Discovery.Instance, port)
		if err != nil {
			// FUNCTIONAL DISCOVERY: Discovery is a convenience; the relay
			// keeps serving without it
			log.Printf("mDNS advertisement unavailable: %v", err)
		} else {
			app.advertiser = advertiser
		}
	}

	log.Printf("Whiteboard relay listening on %s", listener.Addr())
	return nil
}

// Errors reports a fatal serve error after a successful Start
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: Discovery → HTTP → Connections → Hub → Journal
func (app *Application) Stop(ctx context.Context) error {
	var stopErr error
	app.stopOnce.Do(func() {
		log.Printf("Shutting down whiteboard relay")

		if err := app.advertiser.Shutdown(); err != nil {
			log.Printf("mDNS shutdown error: %v", err)
		}

		// STEP 1: Stop accepting new connections
		if err := app.httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			stopErr = err
		}

		// STEP 2: Hijacked websockets are not closed by Shutdown
		app.registry.CloseAll()

		// STEP 3: Stop message processing; queued disconnects are drained
		if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			log.Printf("Message hub shutdown error: %v", err)
		}

		// STEP 4: Flush and close the journal
		if app.journal != nil {
			if err := app.journal.Close(); err != nil {
				log.Printf("Journal shutdown error: %v", err)
			}
		}

		log.Printf("Whiteboard relay shutdown complete")
	})
	return stopErr
}

// Addr returns the bound address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
