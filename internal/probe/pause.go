package probe

import (
	"context"
	"sync"
	"time"
)

// defaultPauseTimeout bounds how long a pause requester waits for the
// reader's acknowledgement before proceeding unconfirmed.
const defaultPauseTimeout = 10 * time.Second

// pauseState is the one-shot handshake object for a single pause request.
// It exists from RequestPause until Resume; its presence in the coordinator
// map is what the reader polls.
type pauseState struct {
	ack   chan struct{}
	acked bool
}

// PauseCoordinator mediates exclusive device access between the flasher and
// the per-port readers. A flash operation requests a pause and blocks until
// the reader has closed its handles (or a timeout fires); the reader polls
// IsPaused before every device read and acknowledges once parked; Resume
// releases the reader.
//
// At most one pause can be outstanding per identity. A second request while
// one is active fails with ErrPauseActive and leaves the first caller's
// wait untouched.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The mutex guards only the
//     pause table; waiting happens outside it.
type PauseCoordinator struct {
	mu      sync.Mutex
	pending map[string]*pauseState
	timeout time.Duration
	logger  Logger
}

// NewPauseCoordinator creates a coordinator. A non-positive timeout selects
// the default (10s).
func NewPauseCoordinator(timeout time.Duration) *PauseCoordinator {
	if timeout <= 0 {
		timeout = defaultPauseTimeout
	}
	return &PauseCoordinator{
		pending: make(map[string]*pauseState),
		timeout: timeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the coordinator.
func (c *PauseCoordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// RequestPause flags identity for pause and blocks until the reader
// acknowledges, the timeout elapses, or ctx is cancelled.
//
// On timeout the pause stays requested (the reader will still park when it
// next checks) and ErrPauseAckTimeout is returned so the caller can decide
// to proceed degraded. Returns ErrPauseActive when a pause for identity is
// already outstanding.
func (c *PauseCoordinator) RequestPause(ctx context.Context, identity string) error {
	c.mu.Lock()
	if _, exists := c.pending[identity]; exists {
		c.mu.Unlock()
		return ErrPauseActive
	}
	st := &pauseState{ack: make(chan struct{})}
	c.pending[identity] = st
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-st.ack:
		return nil
	case <-timer.C:
		c.logger.Warn("pause acknowledgement timed out", "port", identity)
		return ErrPauseAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acknowledge signals the waiting pause requester that the reader has
// relinquished the device. Safe to call when no pause is outstanding and
// safe to call more than once per request.
func (c *PauseCoordinator) Acknowledge(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.pending[identity]
	if !ok || st.acked {
		return
	}
	st.acked = true
	close(st.ack)
}

// Resume clears the pause for identity, releasing its parked reader.
// Idempotent; calling with no pause outstanding is a no-op.
func (c *PauseCoordinator) Resume(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, identity)
}

// IsPaused reports whether a pause is outstanding for identity. This is the
// reader's poll point, both before each device read and while parked.
func (c *PauseCoordinator) IsPaused(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[identity]
	return ok
}
