package probe

import (
	"sort"
	"sync"
)

// Registry is the sole owner of Port records. Discovery inserts ports, the
// per-port reader updates the connected/flashing flags, and the API layer
// reads copies. Records are never deleted: an identity seen once keeps its
// record (and its reader) for the process lifetime, so a probe that drops
// off the bus stays visible as connected=false.
//
// All public methods are thread-safe. The mutex guards only the map; no
// I/O happens under it. Port has no reference fields, so plain value copies
// are handed out.
type Registry struct {
	mu     sync.RWMutex
	ports  map[string]*Port
	logger Logger
}

// NewRegistry creates an empty port registry.
func NewRegistry() *Registry {
	return &Registry{
		ports:  make(map[string]*Port),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register records a discovered port. For a new identity the record is
// stored with both flags false and Register reports true. For a known
// identity only DevicePath is refreshed (a probe re-enumerating on a new
// path after replug); name, serial number and flags are left alone.
func (r *Registry) Register(p Port) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.ports[p.ID]; ok {
		if existing.DevicePath != p.DevicePath {
			r.logger.Info("port moved",
				"port", p.ID,
				"old_device", existing.DevicePath,
				"new_device", p.DevicePath,
			)
			existing.DevicePath = p.DevicePath
		}
		return false
	}

	stored := p
	stored.Connected = false
	stored.Flashing = false
	r.ports[p.ID] = &stored
	return true
}

// Get returns a copy of the port record for id.
// Returns ErrPortNotFound if the identity has never been discovered.
func (r *Registry) Get(id string) (Port, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.ports[id]
	if !ok {
		return Port{}, ErrPortNotFound
	}
	return *p, nil
}

// List returns copies of all port records, sorted by identity.
func (r *Registry) List() []Port {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ports := make([]Port, 0, len(r.ports))
	for _, p := range r.ports {
		ports = append(ports, *p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })
	return ports
}

// DevicePath returns the current device node for id. The reader re-reads
// this on every connect attempt so a replugged probe is picked up on the
// next cycle.
func (r *Registry) DevicePath(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.ports[id]
	if !ok {
		return "", ErrPortNotFound
	}
	return p.DevicePath, nil
}

// SetConnected updates the connected flag for id. Unknown identities are
// ignored; only the identity's own reader calls this.
func (r *Registry) SetConnected(id string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.ports[id]; ok {
		p.Connected = connected
	}
}

// SetFlashing updates the flashing flag for id. Unknown identities are
// ignored.
func (r *Registry) SetFlashing(id string, flashing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.ports[id]; ok {
		p.Flashing = flashing
	}
}

// Count returns the number of registered ports.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ports)
}

// Stats summarises registry state for monitoring.
type Stats struct {
	TotalPorts int
	Connected  int
	Flashing   int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalPorts: len(r.ports)}
	for _, p := range r.ports {
		if p.Connected {
			stats.Connected++
		}
		if p.Flashing {
			stats.Flashing++
		}
	}
	return stats
}
