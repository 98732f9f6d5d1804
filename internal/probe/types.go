package probe

// Port is the registry record for one discovered probe. Records are created
// on first discovery and kept for the process lifetime; only DevicePath and
// the two flags change afterwards.
type Port struct {
	// ID is the stable identity derived from the hardware serial number,
	// or from the device path tail when no serial number is exposed.
	ID string `json:"id"`

	// DevicePath is the current OS device node (e.g. /dev/ttyACM0). It is
	// refreshed in place when a probe re-enumerates on a different path.
	DevicePath string `json:"device"`

	// DisplayName is the human-readable name from USB descriptors.
	DisplayName string `json:"name"`

	// SerialNumber is the probe's USB serial number, empty if not exposed.
	SerialNumber string `json:"serial_number"`

	// Connected reports whether the reader currently holds an open device.
	Connected bool `json:"connected"`

	// Flashing reports whether the reader is parked for a flash operation.
	Flashing bool `json:"flashing"`
}

// PhysicalPort describes one enumerated serial device before qualification.
type PhysicalPort struct {
	DevicePath   string
	Description  string
	Product      string
	SerialNumber string
	VendorID     string
}

// Logger defines the logging interface used by the engine components.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ANSI colour fragments for announcement lines. The colours survive into
// the day files; the query side strips them before substring search.
const (
	ansiGreen  = "\x1b[92m"
	ansiYellow = "\x1b[93m"
	ansiRed    = "\x1b[91m"
	ansiReset  = "\x1b[0m"
)

// connectAnnouncement is logged and fanned out when a device opens.
func connectAnnouncement(device string) string {
	return ansiGreen + "--- connected on " + device + " ---" + ansiReset
}

// disconnectAnnouncement is logged and fanned out when a read fails.
func disconnectAnnouncement(device string) string {
	return ansiRed + "--- disconnected from " + device + " ---" + ansiReset
}

// pausedAnnouncement is logged and fanned out when a reader parks for a
// flash operation.
func pausedAnnouncement() string {
	return ansiYellow + "--- paused (flashing) ---" + ansiReset
}

// resumedAnnouncement is logged and fanned out when the pause clears.
func resumedAnnouncement() string {
	return ansiGreen + "--- resumed ---" + ansiReset
}
