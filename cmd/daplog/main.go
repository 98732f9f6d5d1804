// daplog - USB debug-probe serial monitor
//
// This is the main entry point for the daplog daemon. It discovers DAP
// debug probes as they are plugged in, captures their UART output to
// timestamped per-day log files, and serves a REST + WebSocket API for
// browsing history, live-tailing ports, and flashing firmware via pyocd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/probelab/daplog/internal/api"
	"github.com/probelab/daplog/internal/flash"
	"github.com/probelab/daplog/internal/infrastructure/config"
	"github.com/probelab/daplog/internal/infrastructure/logging"
	"github.com/probelab/daplog/internal/probe"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/daplog.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting daplog",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	cfg, err := loadConfig(log)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Start the monitoring engine: discovery, per-port readers, log capture.
	engine, err := probe.NewManager(probe.ManagerConfig{
		LogRoot:           cfg.Serial.LogRoot,
		BaudRate:          cfg.Serial.BaudRate,
		ReadTimeout:       cfg.GetSerialReadTimeout(),
		DiscoveryInterval: cfg.GetDiscoveryInterval(),
		PauseTimeout:      cfg.GetPauseTimeout(),
		PausePoll:         cfg.GetPausePoll(),
		SubscriberBuffer:  cfg.WebSocket.SendBuffer,
	})
	if err != nil {
		return fmt.Errorf("creating monitoring engine: %w", err)
	}
	engine.SetLogger(log)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting monitoring engine: %w", err)
	}
	defer func() {
		log.Info("stopping monitoring engine")
		engine.Stop()
	}()
	log.Info("monitoring engine started",
		"log_root", cfg.Serial.LogRoot,
		"baud_rate", cfg.Serial.BaudRate,
	)

	// CMSIS pack store for target support files
	packs, err := flash.NewPackStore(cfg.Flash.PackDir)
	if err != nil {
		return fmt.Errorf("opening pack store: %w", err)
	}
	log.Info("pack store ready", "dir", packs.Dir())

	// Firmware flasher, sharing the engine's pause handshake
	flasher := flash.NewFlasher(engine, packs, flash.Config{
		PyOCDPath: cfg.Flash.PyOCDPath,
		Target:    cfg.Flash.Target,
		Frequency: cfg.Flash.Frequency,
		Timeout:   cfg.GetFlashTimeout(),
	})
	flasher.SetLogger(log)

	// HTTP API and WebSocket server
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Engine:  engine,
		Flasher: flasher,
		Packs:   packs,
		LogRoot: cfg.Serial.LogRoot,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains requests, closes WebSocket clients)
	// 2. Monitoring engine (stops readers, flushes log files)

	log.Info("daplog stopped")
	return nil
}

// loadConfig reads the config file, falling back to built-in defaults when
// no file exists so a container can run on DAPLOG_* variables alone.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	path := getConfigPath()

	cfg, err := config.Load(path)
	if err == nil {
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no config file, using defaults", "path", path)
		return config.Default()
	}
	return nil, err
}

// getConfigPath returns the configuration file path.
// Uses DAPLOG_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DAPLOG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
