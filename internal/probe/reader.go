package probe

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
	"golang.org/x/text/encoding/charmap"

	"github.com/probelab/daplog/internal/logstore"
)

// Reconnect backoffs by fault class. Chosen so an unplugged probe is
// rechecked quickly while a misbehaving driver is given more room.
const (
	backoffPathMissing = 2 * time.Second
	backoffSerialFault = 3 * time.Second
	backoffUnknown     = 5 * time.Second
)

// defaultPausePoll is how often a parked reader re-checks the pause flag.
const defaultPausePoll = 200 * time.Millisecond

// readChunkSize is the bulk read size. One read drains whatever the kernel
// has buffered up to this much; the short read timeout keeps the loop
// responsive when the line is idle.
const readChunkSize = 4096

// portOpener abstracts device opening so tests can substitute an in-memory
// port for real hardware.
type portOpener func(path string, baud int, readTimeout time.Duration) (io.ReadCloser, error)

// openSerialPort opens the device through the serial stack. The short read
// timeout makes Read return (0, nil) on an idle line instead of blocking,
// which bounds how long pause and shutdown checks can be deferred.
func openSerialPort(path string, baud int, readTimeout time.Duration) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// lineDecoder maps raw serial bytes to text. ISO 8859-1 is total: every
// byte decodes to exactly one rune, so garbage on the wire can never fail
// decoding or lose data.
var lineDecoder = charmap.ISO8859_1.NewDecoder()

// decodeBytes converts a raw line permissively to a UTF-8 string.
func decodeBytes(raw []byte) string {
	decoded, err := lineDecoder.Bytes(raw)
	if err != nil {
		// Unreachable for ISO 8859-1, but never drop data over decoding.
		return string(raw)
	}
	return string(decoded)
}

// readerConfig carries the per-reader tunables. The manager fills it from
// its own config; tests use small values to keep backoffs fast.
type readerConfig struct {
	baudRate           int
	readTimeout        time.Duration
	pausePoll          time.Duration
	backoffPathMissing time.Duration
	backoffSerial      time.Duration
	backoffUnknown     time.Duration
}

// reader runs the monitor loop for one identity. It exclusively owns its
// device handle and its log writer; all shared state goes through the
// registry, hub and pause coordinator.
//
// State machine: DISCONNECTED → CONNECTING → CONNECTED → PAUSED →
// CONNECTING → … Any fault falls back to DISCONNECTED with a classified
// backoff. The loop only exits when ctx is cancelled.
type reader struct {
	identity string
	registry *Registry
	hub      *Hub
	pause    *PauseCoordinator
	writer   *logstore.Writer
	cfg      readerConfig
	logger   Logger
	openPort portOpener
	now      func() time.Time
}

// newReader wires a reader for identity. Zero-valued cfg fields get the
// production defaults.
func newReader(identity string, registry *Registry, hub *Hub, pause *PauseCoordinator, writer *logstore.Writer, cfg readerConfig, logger Logger) *reader {
	if cfg.baudRate <= 0 {
		cfg.baudRate = 115200
	}
	if cfg.readTimeout <= 0 {
		cfg.readTimeout = 100 * time.Millisecond
	}
	if cfg.pausePoll <= 0 {
		cfg.pausePoll = defaultPausePoll
	}
	if cfg.backoffPathMissing <= 0 {
		cfg.backoffPathMissing = backoffPathMissing
	}
	if cfg.backoffSerial <= 0 {
		cfg.backoffSerial = backoffSerialFault
	}
	if cfg.backoffUnknown <= 0 {
		cfg.backoffUnknown = backoffUnknown
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &reader{
		identity: identity,
		registry: registry,
		hub:      hub,
		pause:    pause,
		writer:   writer,
		cfg:      cfg,
		logger:   logger,
		openPort: openSerialPort,
		now:      time.Now,
	}
}

// run is the reader goroutine body. It loops between pause parking and
// connect/pump cycles until ctx is cancelled, then flushes and closes the
// log writer on the way out. A stopped reader is not monitoring, so the
// port is marked disconnected on exit.
func (r *reader) run(ctx context.Context) {
	defer func() {
		r.registry.SetConnected(r.identity, false)
		if err := r.writer.Close(); err != nil {
			r.logger.Error("closing log writer", "port", r.identity, "error", err)
		}
	}()

	for ctx.Err() == nil {
		if r.pause.IsPaused(r.identity) {
			r.parkWhilePaused(ctx)
			continue
		}
		r.connectAndPump(ctx)
	}
}

// connectAndPump performs one CONNECTING → CONNECTED cycle: resolve the
// current device path, open it, then pump lines until pause, fault or
// shutdown. Fault paths mark the port disconnected and sleep the classified
// backoff before returning to the outer loop.
func (r *reader) connectAndPump(ctx context.Context) {
	path, err := r.registry.DevicePath(r.identity)
	if err != nil {
		// Registry records are never removed, so this is unreachable once
		// the reader has been started for a registered identity.
		r.logger.Error("identity missing from registry", "port", r.identity)
		sleepCtx(ctx, r.cfg.backoffUnknown)
		return
	}

	if _, statErr := os.Stat(path); statErr != nil {
		r.registry.SetConnected(r.identity, false)
		sleepCtx(ctx, r.cfg.backoffPathMissing)
		return
	}

	port, err := r.openPort(path, r.cfg.baudRate, r.cfg.readTimeout)
	if err != nil {
		r.registry.SetConnected(r.identity, false)
		r.logger.Warn("serial open failed",
			"port", r.identity,
			"device", path,
			"error", err,
		)
		sleepCtx(ctx, r.backoffFor(err))
		return
	}
	defer port.Close()

	r.registry.SetConnected(r.identity, true)
	r.emit(connectAnnouncement(path))
	r.logger.Info("serial connected", "port", r.identity, "device", path)

	var buf []byte
	chunk := make([]byte, readChunkSize)

	for ctx.Err() == nil {
		// Pause check happens before every read; once we return, the
		// deferred close releases the device and the outer loop parks.
		if r.pause.IsPaused(r.identity) {
			return
		}

		n, readErr := port.Read(chunk)
		if readErr != nil {
			r.emit(disconnectAnnouncement(path))
			r.registry.SetConnected(r.identity, false)
			r.logger.Warn("serial read failed",
				"port", r.identity,
				"device", path,
				"error", readErr,
			)
			sleepCtx(ctx, r.backoffFor(readErr))
			return
		}
		if n == 0 {
			// Read timeout, line idle.
			continue
		}

		buf = append(buf, chunk[:n]...)
		var appendErr error
		buf, appendErr = r.extractLines(buf)
		if appendErr != nil {
			r.registry.SetConnected(r.identity, false)
			r.logger.Error("log append failed",
				"port", r.identity,
				"error", appendErr,
			)
			sleepCtx(ctx, r.cfg.backoffUnknown)
			return
		}
	}
}

// extractLines consumes every complete newline-terminated line from buf and
// records it. Returns the remaining partial line and the first append
// failure, if any.
func (r *reader) extractLines(buf []byte) ([]byte, error) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return buf, nil
		}
		raw := buf[:i]
		buf = buf[i+1:]

		line := strings.TrimSuffix(decodeBytes(raw), "\r")
		if line == "" {
			continue
		}

		// Timestamp at extraction: a burst framed in one read yields
		// near-identical, non-decreasing timestamps in arrival order.
		ts := r.now()
		if err := r.writer.Append(ts, line); err != nil {
			return buf, err
		}
		// Fan-out strictly after the append so the live stream never shows
		// a line the day file does not contain.
		r.hub.Publish(r.identity, logstore.FormatEntry(ts, line))
	}
}

// emit records an announcement line. Announcements share the data path
// (append, then publish) but failures only log; lifecycle transitions must
// not take the reader down.
func (r *reader) emit(text string) {
	ts := r.now()
	if err := r.writer.Append(ts, text); err != nil {
		r.logger.Warn("announcement append failed",
			"port", r.identity,
			"error", err,
		)
		return
	}
	r.hub.Publish(r.identity, logstore.FormatEntry(ts, text))
}

// parkWhilePaused executes the reader half of the pause handshake. The
// device handle is already closed when this runs. Teardown order: flags
// first, then the paused announcement, then flush and close the log writer,
// and only then the acknowledgement, so the flasher never starts while any
// handle is open. The reader then polls until resumed or shut down.
func (r *reader) parkWhilePaused(ctx context.Context) {
	r.registry.SetConnected(r.identity, false)
	r.registry.SetFlashing(r.identity, true)
	r.emit(pausedAnnouncement())
	if err := r.writer.Close(); err != nil {
		r.logger.Warn("closing log writer for pause", "port", r.identity, "error", err)
	}
	r.pause.Acknowledge(r.identity)
	r.logger.Info("reader paused", "port", r.identity)

	for ctx.Err() == nil && r.pause.IsPaused(r.identity) {
		sleepCtx(ctx, r.cfg.pausePoll)
	}
	if ctx.Err() != nil {
		return
	}

	r.registry.SetFlashing(r.identity, false)
	r.emit(resumedAnnouncement())
	r.logger.Info("reader resumed", "port", r.identity)
}

// backoffFor selects the reconnect delay for a device-level error.
func (r *reader) backoffFor(err error) time.Duration {
	switch classifyFault(err) {
	case faultPathMissing:
		return r.cfg.backoffPathMissing
	case faultSerial:
		return r.cfg.backoffSerial
	default:
		return r.cfg.backoffUnknown
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
