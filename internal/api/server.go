package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/probelab/daplog/internal/flash"
	"github.com/probelab/daplog/internal/infrastructure/config"
	"github.com/probelab/daplog/internal/infrastructure/logging"
	"github.com/probelab/daplog/internal/probe"
)

const gracefulShutdownTimeout = 10 * time.Second

// Engine is the view of the monitoring engine the API needs: port metadata,
// live line subscriptions, and aggregate stats. Implemented by probe.Manager.
type Engine interface {
	Ports() []probe.Port
	Subscribe(identity string) *probe.Subscription
	Unsubscribe(sub *probe.Subscription)
	GetStats() probe.Stats
}

// FlashRunner runs a firmware flash and reports the outcome. Implemented by
// flash.Flasher; declared here so tests can script outcomes without a pyocd
// binary on the machine.
type FlashRunner interface {
	Flash(ctx context.Context, req flash.Request) flash.Result
}

// Deps carries everything the server needs. Logger, Engine, and LogRoot are
// required; Flasher and Packs are optional and their endpoints return 503
// when absent.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Engine  Engine
	Flasher FlashRunner
	Packs   *flash.PackStore
	LogRoot string
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	engine  Engine
	flasher FlashRunner
	packs   *flash.PackStore
	logRoot string
	version string

	server    *http.Server
	startTime time.Time

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// New creates a new API server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("api: probe engine is required")
	}
	if deps.LogRoot == "" {
		return nil, errors.New("api: log root is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.With("component", "api"),
		engine:    deps.Engine,
		flasher:   deps.Flasher,
		packs:     deps.Packs,
		logRoot:   deps.LogRoot,
		version:   deps.Version,
		startTime: time.Now(),
		clients:   make(map[*wsClient]struct{}),
	}, nil
}

// Start begins listening for HTTP requests. It returns immediately; the
// server runs in a background goroutine until Close is called.
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server, draining in-flight requests and
// closing any connected WebSocket clients.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)

	// Hijacked WebSocket connections are outside Shutdown's view; close
	// them explicitly so their pumps exit.
	s.closeClients()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

func (s *Server) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug("websocket client connected", "port", c.sub.Identity(), "clients", count)
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
