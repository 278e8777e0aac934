// Package rfcomm opens Bluetooth serial links over raw RFCOMM sockets and
// wraps connected socket descriptors as link.Socket values.
package rfcomm

import (
	"fmt"
	"net"
)

// ParseAddress converts "AA:BB:CC:DD:EE:FF" into the byte order the kernel
// expects in a sockaddr_rc, which stores the address least-significant byte first.
func ParseAddress(mac string) ([6]byte, error) {
	var addr [6]byte

	hw, err := net.ParseMAC(mac)
	if err != nil {
		return addr, fmt.Errorf("invalid bluetooth address %q: %w", mac, err)
	}
	if len(hw) != len(addr) {
		return addr, fmt.Errorf("invalid bluetooth address %q: want 6 bytes, got %d", mac, len(hw))
	}

	for i := range addr {
		addr[i] = hw[len(hw)-1-i]
	}
	return addr, nil
}
