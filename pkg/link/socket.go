package link

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SerialPortServiceUUID is the standard Serial Port Profile service class ID.
var SerialPortServiceUUID = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

// InputStream is the receive side of a Socket.
type InputStream interface {
	io.ReadCloser

	// Available returns the number of bytes that can be read without blocking.
	Available() (int, error)
}

// Socket is an open byte-stream connection to one device.
// Input, output and the socket itself are closed independently; closing the
// socket releases the underlying transport handle.
type Socket interface {
	Input() InputStream
	Output() io.WriteCloser
	Close() error
}

// SocketFactory opens a connected Socket to a device for the given service.
// Implementations must honour ctx cancellation.
type SocketFactory interface {
	OpenSocket(ctx context.Context, dev Device, service uuid.UUID) (Socket, error)
}

// SocketFactoryFunc adapts a function to the SocketFactory interface.
type SocketFactoryFunc func(ctx context.Context, dev Device, service uuid.UUID) (Socket, error)

func (f SocketFactoryFunc) OpenSocket(ctx context.Context, dev Device, service uuid.UUID) (Socket, error) {
	return f(ctx, dev, service)
}

type fallbackFactory struct {
	primary  SocketFactory
	fallback SocketFactory
}

// WithFallback returns a SocketFactory that tries primary first and switches to
// fallback when primary reports ErrUnsupported for the device. Other primary
// failures (refused, timed out) are returned as-is.
func WithFallback(primary, fallback SocketFactory) SocketFactory {
	if fallback == nil {
		return primary
	}
	return &fallbackFactory{primary: primary, fallback: fallback}
}

func (f *fallbackFactory) OpenSocket(ctx context.Context, dev Device, service uuid.UUID) (Socket, error) {
	sock, err := f.primary.OpenSocket(ctx, dev, service)
	if err == nil {
		return sock, nil
	}
	if !errors.Is(err, ErrUnsupported) {
		return nil, err
	}

	sock, fbErr := f.fallback.OpenSocket(ctx, dev, service)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback after %v: %w", err, fbErr)
	}
	return sock, nil
}

// Adapter is the platform radio: radio state and the list of paired devices.
type Adapter interface {
	RadioEnabled() bool
	PairedDevices() ([]Device, error)
	CancelDiscovery() error
}

// LinkObserver reports unsolicited link loss (ACL disconnect) for a device.
// Subscribe returns a function that removes the subscription.
type LinkObserver interface {
	Subscribe(onLost func(Device)) (unsubscribe func(), err error)
}

// closeSocket closes input, output and the socket. Each close is attempted even
// if an earlier one failed; failures are logged, never returned.
func closeSocket(sock Socket, logger *logrus.Logger) {
	if sock == nil {
		return
	}

	if in := sock.Input(); in != nil {
		if err := in.Close(); err != nil {
			logger.WithError(err).Warn("Failed releasing input stream")
		}
	}
	if out := sock.Output(); out != nil {
		if err := out.Close(); err != nil {
			logger.WithError(err).Warn("Failed releasing output stream")
		}
	}
	if err := sock.Close(); err != nil {
		logger.WithError(err).Warn("Failed closing socket")
	}
}
