package probe

import (
	"errors"
	"os"

	"go.bug.st/serial"
)

// Domain errors for the probe package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, probe.ErrPauseActive) {
//	    // a flash is already holding this port
//	}
var (
	// ErrPortNotFound is returned when an identity has never been discovered.
	ErrPortNotFound = errors.New("probe: port not found")

	// ErrPauseActive is returned when a pause is requested for an identity
	// that already has an outstanding pause.
	ErrPauseActive = errors.New("probe: pause already active")

	// ErrPauseAckTimeout is returned when the reader does not acknowledge a
	// pause within the timeout. The pause stays requested; callers may
	// proceed, degraded.
	ErrPauseAckTimeout = errors.New("probe: pause not acknowledged in time")

	// ErrAlreadyRunning is returned when Start is called on a running manager.
	ErrAlreadyRunning = errors.New("probe: manager already running")

	// ErrNotRunning is returned for operations requiring a started manager.
	ErrNotRunning = errors.New("probe: manager not running")
)

// faultClass selects the reconnect backoff after a device-level failure.
type faultClass int

const (
	// faultPathMissing: the device node is gone; the probe was unplugged.
	faultPathMissing faultClass = iota
	// faultSerial: the serial stack failed to open or read the device.
	faultSerial
	// faultUnknown: anything else; retried with the longest backoff.
	faultUnknown
)

// classifyFault maps a device-level error onto a fault class. Faults never
// propagate out of a reader loop; classification only picks the backoff.
func classifyFault(err error) faultClass {
	if errors.Is(err, os.ErrNotExist) {
		return faultPathMissing
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return faultSerial
	}

	// A bare PathError from the tty layer (EIO on unplug, EACCES) is still
	// a serial-layer condition rather than an engine bug.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return faultSerial
	}

	return faultUnknown
}
