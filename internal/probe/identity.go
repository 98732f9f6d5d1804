package probe

import (
	"regexp"
	"strings"
)

// identityPattern matches every character that may not appear in a port
// identity. Identities name directories under the log root, so the allowed
// set is deliberately filesystem-safe.
var identityPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID replaces every character outside [A-Za-z0-9_-] with an
// underscore.
func SanitizeID(value string) string {
	return identityPattern.ReplaceAllString(value, "_")
}

// ComputeID derives the stable identity for a probe. The hardware serial
// number wins when present; otherwise the last component of the device path
// is used (e.g. /dev/ttyACM0 becomes ttyACM0). Deterministic and total.
func ComputeID(serialNumber, devicePath string) string {
	if serialNumber != "" {
		return SanitizeID(serialNumber)
	}
	if i := strings.LastIndexByte(devicePath, '/'); i >= 0 {
		devicePath = devicePath[i+1:]
	}
	return SanitizeID(devicePath)
}

// ValidID reports whether id is a non-empty, already-sanitized identity.
// The API layer uses it to reject path segments that could never name a
// registered port.
func ValidID(id string) bool {
	return id != "" && !identityPattern.MatchString(id)
}
