package oatmeal

import (
	"crypto/sha1"
	"encoding/hex"
)

// DeviceDetails is the four-tuple a DISA reply carries: the device's
// declared role, its instance index among boards of that role, a
// hardware-specific identifier, and a firmware version string.
type DeviceDetails struct {
	Role          string
	InstanceIndex int
	HardwareID    string
	Version       string
}

// ShortHardwareID returns the low 6 hex digits of SHA-1(HardwareID), for
// human-readable names. It never appears on the wire.
func (d DeviceDetails) ShortHardwareID() string {
	sum := sha1.Sum([]byte(d.HardwareID))
	full := hex.EncodeToString(sum[:])
	return full[len(full)-6:]
}
