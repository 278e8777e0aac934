package link

import (
	"strings"
)

// Device identifies a paired peer as reported by the Adapter.
type Device struct {
	ID      string // platform identifier (e.g. BlueZ object path)
	Name    string // display name
	Address string // Bluetooth address, may be empty
}

// Equal reports whether d and other refer to the same peer.
// IDs are compared when both are set, addresses otherwise.
func (d Device) Equal(other Device) bool {
	if d.ID != "" && other.ID != "" {
		return d.ID == other.ID
	}
	if d.Address != "" && other.Address != "" {
		return strings.EqualFold(d.Address, other.Address)
	}
	return false
}

func (d Device) String() string {
	switch {
	case d.Name != "" && d.Address != "":
		return d.Name + " (" + d.Address + ")"
	case d.Name != "":
		return d.Name
	case d.Address != "":
		return d.Address
	default:
		return d.ID
	}
}

// MatchesPrefix reports whether the device name starts with prefix, ignoring case.
// An empty prefix matches every device.
func (d Device) MatchesPrefix(prefix string) bool {
	return strings.HasPrefix(strings.ToUpper(d.Name), strings.ToUpper(prefix))
}

// SelectDevices returns the devices whose name starts with prefix (case-insensitive),
// keeping their original order.
func SelectDevices(devices []Device, prefix string) []Device {
	selected := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MatchesPrefix(prefix) {
			selected = append(selected, d)
		}
	}
	return selected
}
