//go:build !darwin && !linux

package nus

import (
	"github.com/go-ble/ble"
	"github.com/srg/btserial/pkg/link"
)

// DeviceFactory creates the platform BLE device (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return nil, link.ErrUnsupported
}
