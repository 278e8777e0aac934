// Package nus carries the serial link over BLE using the Nordic UART Service:
// notifications on the TX characteristic feed the input stream and writes go
// to the RX characteristic in MTU-sized chunks.
package nus

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
)

// ServiceUUID is the Nordic UART Service.
var ServiceUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")

// TxCharUUID is the TX characteristic (device -> client).
var TxCharUUID = ble.MustParse("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")

// RxCharUUID is the RX characteristic (client -> device).
var RxCharUUID = ble.MustParse("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")

// ServiceID is ServiceUUID as a uuid.UUID, for link.Options.ServiceID.
var ServiceID = uuid.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")

const (
	// DefaultChunkSize fits the default ATT MTU of 23 bytes.
	DefaultChunkSize = 20

	// DefaultChunkDelay paces chunked writes so small peripherals keep up.
	DefaultChunkDelay = 10 * time.Millisecond

	// DefaultInputBuffer holds notifications until the stream reader drains them.
	DefaultInputBuffer = 4096

	DefaultScanTimeout = 10 * time.Second
)
