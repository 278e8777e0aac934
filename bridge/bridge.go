// Package bridge exposes a link as a local pseudo-terminal, so tools that only
// speak to serial ports can talk to the remote device.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/ptyio"
	"github.com/srg/btserial/pkg/link"
)

// DefaultBufferSize is the size, in bytes, of each PTY ring buffer.
const DefaultBufferSize = 4096

// Options configures a Bridge.
type Options struct {
	TTYSymlinkPath string // optional symlink to the PTY slave, e.g. /tmp/bmx
	BufferSize     int    // 0 = DefaultBufferSize
	Logger         *logrus.Logger
}

// ProgressCallback is called when the bridge phase changes.
type ProgressCallback func(phase string)

// Bridge copies link bytes to a PTY and PTY bytes to the link.
// It is the link.MessageHandler of the Manager it serves.
type Bridge struct {
	pty     ptyio.PTY
	symlink string
	logger  *logrus.Logger
	out     atomic.Pointer[io.Writer]

	droppedInput atomic.Uint64
}

var _ link.MessageHandler = (*Bridge)(nil)

// New creates the PTY and, if requested, the symlink pointing at its slave.
func New(opts Options) (*Bridge, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	pty, err := ptyio.New(ptyio.Options{ReadCap: size, WriteCap: size, Logger: logger})
	if err != nil {
		return nil, err
	}
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	b := &Bridge{pty: pty, logger: logger}
	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			_ = pty.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		b.symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": b.symlink,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	pty.SetReadCallback(b.forward)
	return b, nil
}

// TTYName is the path of the PTY slave.
func (b *Bridge) TTYName() string { return b.pty.TTYName() }

// TTYSymlink is the symlink path, empty if none was requested.
func (b *Bridge) TTYSymlink() string { return b.symlink }

// Stats returns the PTY counters.
func (b *Bridge) Stats() ptyio.Stats { return b.pty.Stats() }

// DroppedInput counts PTY bytes discarded because the link was down.
func (b *Bridge) DroppedInput() uint64 { return b.droppedInput.Load() }

// Attach routes PTY input to w, typically the link.Manager.
func (b *Bridge) Attach(w io.Writer) {
	b.out.Store(&w)
}

func (b *Bridge) forward(data []byte) {
	w := b.out.Load()
	if w == nil {
		b.droppedInput.Add(uint64(len(data)))
		return
	}

	if _, err := (*w).Write(data); err != nil {
		b.droppedInput.Add(uint64(len(data)))
		if link.IsConnectionState(err, link.LinkLost) {
			b.logger.WithField("bytes", len(data)).Debug("Link down, dropping PTY input")
			return
		}
		b.logger.WithError(err).Warn("Failed to forward PTY input to link")
	}
}

// HandleMessage queues as much of the buffered link data as the PTY can take.
// Whatever does not fit stays in the link buffer until the terminal catches up.
func (b *Bridge) HandleMessage(buffered []byte) int {
	room := b.pty.Free()
	if room <= 0 {
		return 0
	}
	if room < len(buffered) {
		buffered = buffered[:room]
	}
	n, err := b.pty.Write(buffered)
	if err != nil {
		b.logger.WithError(err).Debug("PTY write failed")
		return 0
	}
	return n
}

// Close removes the symlink and closes the PTY.
func (b *Bridge) Close() error {
	if b.symlink != "" {
		if err := os.Remove(b.symlink); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.WithError(err).WithField("ttySymlink", b.symlink).Warn("Failed to remove tty symlink")
		} else {
			b.logger.WithField("ttySymlink", b.symlink).Debug("Removed tty symlink")
		}
		b.symlink = ""
	}
	return b.pty.Close()
}

// Run reports link progress until ctx is cancelled or the link gives up.
func Run(ctx context.Context, events <-chan link.Event, progress ProgressCallback) error {
	if progress == nil {
		progress = func(string) {}
	}
	progress("Connecting")

	for {
		select {
		case <-ctx.Done():
			progress("Stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case link.EventConnected:
				progress("Connected to " + ev.Device.String())
			case link.EventDisconnected:
				progress("Reconnecting")
			case link.EventFailed:
				progress("Failed")
				return fmt.Errorf("bridge stopped: %w", link.ErrExhausted)
			}
		}
	}
}
