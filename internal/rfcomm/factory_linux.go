package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/link"
	"golang.org/x/sys/unix"
)

// connectPollInterval bounds how long a pending connect waits before re-checking ctx.
const connectPollInterval = 100 * time.Millisecond

// ChannelFactory connects straight to a fixed RFCOMM channel, skipping the
// service lookup. It is the fallback for peers whose SDP record cannot be used.
type ChannelFactory struct {
	Channel uint8
	Logger  *logrus.Logger
}

var _ link.SocketFactory = (*ChannelFactory)(nil)

// NewChannelFactory creates a factory for the given channel (1..30).
func NewChannelFactory(channel uint8, logger *logrus.Logger) *ChannelFactory {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChannelFactory{Channel: channel, Logger: logger}
}

// OpenSocket connects to dev.Address on the configured channel. The service ID is not consulted.
func (f *ChannelFactory) OpenSocket(ctx context.Context, dev link.Device, _ uuid.UUID) (link.Socket, error) {
	if dev.Address == "" {
		return nil, fmt.Errorf("device %s has no address: %w", dev, link.ErrUnsupported)
	}
	addr, err := ParseAddress(dev.Address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("create rfcomm socket: %w", err)
	}

	f.Logger.WithFields(logrus.Fields{
		"device":  dev.String(),
		"channel": f.Channel,
	}).Debug("Connecting rfcomm socket")

	if err := connect(ctx, fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: f.Channel}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect %s channel %d: %w", dev, f.Channel, err)
	}

	return NewSocket(fd, fmt.Sprintf("rfcomm:%s:%d", dev.Address, f.Channel))
}

// connect performs a non-blocking connect and waits for it with poll(2) so ctx can abort it.
func connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		return err
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, int(connectPollInterval/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}

		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("getsockopt: %w", err)
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}
