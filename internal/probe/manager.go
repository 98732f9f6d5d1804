package probe

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/probelab/daplog/internal/logstore"
)

// ManagerConfig carries the engine settings. Zero values select the
// production defaults.
type ManagerConfig struct {
	// LogRoot is the directory under which per-port day files live.
	// Required; creating it is the only fatal startup condition.
	LogRoot string

	// BaudRate applies to every opened device. Default 115200.
	BaudRate int

	// ReadTimeout is the per-read device timeout. Default 100ms.
	ReadTimeout time.Duration

	// DiscoveryInterval is the time between enumeration passes. Default 10s.
	DiscoveryInterval time.Duration

	// PauseTimeout bounds RequestPause waits. Default 10s.
	PauseTimeout time.Duration

	// PausePoll is the parked reader's poll interval. Default 200ms.
	PausePoll time.Duration

	// SubscriberBuffer is the per-subscription line buffer. Default 5000.
	SubscriberBuffer int
}

// Manager owns the monitoring engine: the port registry, the discovery
// loop, one reader goroutine per identity, the subscriber hub and the
// pause coordinator. It is the single dependency the API and flash layers
// take.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
type Manager struct {
	cfg      ManagerConfig
	registry *Registry
	hub      *Hub
	pause    *PauseCoordinator
	scanner  Scanner
	logger   Logger

	// openPort and now are reader seams, overridable before Start in tests.
	openPort portOpener
	now      func() time.Time

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	readers map[string]bool
}

// NewManager creates a manager. LogRoot is required; every other zero
// field takes its default.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.LogRoot == "" {
		return nil, fmt.Errorf("probe: log root is required")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 10 * time.Second
	}
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = defaultPauseTimeout
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = defaultPausePoll
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}

	return &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		hub:      NewHub(cfg.SubscriberBuffer),
		pause:    NewPauseCoordinator(cfg.PauseTimeout),
		scanner:  EnumeratorScanner{},
		logger:   noopLogger{},
		openPort: openSerialPort,
		now:      time.Now,
		readers:  make(map[string]bool),
	}, nil
}

// SetLogger sets the logger for the manager and its components.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	m.registry.SetLogger(logger)
	m.hub.SetLogger(logger)
	m.pause.SetLogger(logger)
}

// SetScanner replaces the device scanner. Must be called before Start.
func (m *Manager) SetScanner(s Scanner) {
	m.scanner = s
}

// Start creates the log root, runs one synchronous discovery pass and
// launches the periodic discovery loop. Failure to create the log root is
// the one fatal condition; a failed discovery pass is only logged and
// retried on the next tick.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	if err := os.MkdirAll(m.cfg.LogRoot, 0o755); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("creating log root: %w", err)
	}

	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	if err := m.reconcile(); err != nil {
		m.logger.Warn("initial discovery pass failed", "error", err)
	}

	m.wg.Add(1)
	go m.discoveryLoop()

	m.logger.Info("monitoring engine started",
		"log_root", m.cfg.LogRoot,
		"baud_rate", m.cfg.BaudRate,
		"discovery_interval", m.cfg.DiscoveryInterval,
	)
	return nil
}

// Stop cancels every loop and waits for the readers and the discovery
// goroutine to finish their cleanup. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	// Readers are gone; clear the guard so a later Start respawns them.
	m.mu.Lock()
	m.readers = make(map[string]bool)
	m.mu.Unlock()

	m.logger.Info("monitoring engine stopped")
}

// discoveryLoop re-enumerates on a fixed interval for the process
// lifetime. A failed pass never terminates the loop.
func (m *Manager) discoveryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			if err := m.reconcile(); err != nil {
				m.logger.Warn("discovery pass failed", "error", err)
			}
		}
	}
}

// reconcile scans for probes, registers newcomers and starts exactly one
// reader per new identity. Known identities only get their device path
// refreshed; their reader picks the new path up on its next connect
// attempt. Readers are never stopped for ports that disappear.
func (m *Manager) reconcile() error {
	found, err := m.scanner.Scan()
	if err != nil {
		return err
	}

	for _, p := range FilterProbes(found) {
		identity := ComputeID(p.SerialNumber, p.DevicePath)
		port := Port{
			ID:           identity,
			DevicePath:   p.DevicePath,
			DisplayName:  displayName(p),
			SerialNumber: p.SerialNumber,
		}
		if m.registry.Register(port) {
			m.logger.Info("probe discovered",
				"port", identity,
				"device", p.DevicePath,
				"name", port.DisplayName,
			)
		}
		// Idempotent: the readers guard ensures one goroutine per identity
		// even across repeated passes or an engine restart.
		m.startReader(identity)
	}
	return nil
}

// startReader launches the reader goroutine for identity, at most once.
func (m *Manager) startReader(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.readers[identity] {
		return
	}
	m.readers[identity] = true

	rd := newReader(
		identity,
		m.registry,
		m.hub,
		m.pause,
		logstore.NewWriter(m.cfg.LogRoot, identity),
		readerConfig{
			baudRate:    m.cfg.BaudRate,
			readTimeout: m.cfg.ReadTimeout,
			pausePoll:   m.cfg.PausePoll,
		},
		m.logger,
	)
	rd.openPort = m.openPort
	rd.now = m.now

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		rd.run(m.runCtx)
	}()
}

// Ports returns copies of all port records, sorted by identity.
func (m *Manager) Ports() []Port {
	return m.registry.List()
}

// Port returns a copy of one port record.
// Returns ErrPortNotFound for an unknown identity.
func (m *Manager) Port(id string) (Port, error) {
	return m.registry.Get(id)
}

// Subscribe attaches a live subscription to identity's line stream.
func (m *Manager) Subscribe(identity string) *Subscription {
	return m.hub.Subscribe(identity)
}

// Unsubscribe detaches a subscription. Idempotent.
func (m *Manager) Unsubscribe(sub *Subscription) {
	m.hub.Unsubscribe(sub)
}

// RequestPause asks identity's reader to relinquish its device and waits
// for the acknowledgement. See PauseCoordinator.RequestPause.
func (m *Manager) RequestPause(ctx context.Context, identity string) error {
	return m.pause.RequestPause(ctx, identity)
}

// Resume clears an outstanding pause for identity. Idempotent.
func (m *Manager) Resume(identity string) {
	m.pause.Resume(identity)
}

// GetStats returns registry statistics for monitoring.
func (m *Manager) GetStats() Stats {
	return m.registry.GetStats()
}
