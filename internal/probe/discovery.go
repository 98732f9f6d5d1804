package probe

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

const (
	// dapVendorID is the USB vendor ID shared by CMSIS-DAP probes
	// (hex string as reported by the enumerator).
	dapVendorID = "0D28"

	// dapMarker qualifies probes whose descriptors carry the DAP name even
	// under a different vendor ID.
	dapMarker = "DAP"
)

// Scanner enumerates candidate serial devices. The production
// implementation wraps the platform enumerator; tests substitute fakes.
type Scanner interface {
	Scan() ([]PhysicalPort, error)
}

// EnumeratorScanner lists USB serial devices via the OS port enumerator.
type EnumeratorScanner struct{}

// compile-time interface check
var _ Scanner = EnumeratorScanner{}

// Scan returns every enumerated serial device, unfiltered.
func (EnumeratorScanner) Scan() ([]PhysicalPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	ports := make([]PhysicalPort, 0, len(details))
	for _, d := range details {
		ports = append(ports, PhysicalPort{
			DevicePath:   d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			VendorID:     d.VID,
		})
	}
	return ports, nil
}

// FilterProbes returns the debug probes among ports, sorted by device path
// for deterministic reconcile order.
func FilterProbes(ports []PhysicalPort) []PhysicalPort {
	var probes []PhysicalPort
	for _, p := range ports {
		if IsProbe(p) {
			probes = append(probes, p)
		}
	}
	sort.Slice(probes, func(i, j int) bool {
		return probes[i].DevicePath < probes[j].DevicePath
	})
	return probes
}

// IsProbe reports whether a device qualifies as a debug probe: either its
// vendor ID is the DAP vendor, or its description/product string mentions
// DAP (case-insensitive).
func IsProbe(p PhysicalPort) bool {
	if strings.EqualFold(p.VendorID, dapVendorID) {
		return true
	}
	descriptor := strings.ToUpper(p.Description + " " + p.Product)
	return strings.Contains(descriptor, dapMarker)
}

// displayName picks the registry display name for a probe: USB description,
// else product string, else a generic name carrying the device path.
func displayName(p PhysicalPort) string {
	if p.Description != "" {
		return p.Description
	}
	if p.Product != "" {
		return p.Product
	}
	return "DAP (" + p.DevicePath + ")"
}
