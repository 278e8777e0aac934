package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/groutine"
)

// Manager owns the link to one peer: connection state, the retry loop, the
// socket and the stream reader.
type Manager struct {
	opts   Options
	logger *logrus.Logger

	mu          sync.Mutex
	state       State
	generation  uint64 // bumped by Connect, Close and link loss; stale loops compare against it
	device      Device
	socket      Socket
	reader      *StreamReader
	loopCancel  context.CancelFunc
	loopDone    <-chan struct{}
	unsubscribe func()

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(opts Options) (*Manager, error) {
	if opts.Adapter == nil {
		return nil, errors.New("link: adapter is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("link: socket factory is required")
	}

	opts = opts.withDefaults()
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		state:  StateDisconnected,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the connected device, if any.
func (m *Manager) Device() (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return Device{}, false
	}
	return m.device, true
}

// ReaderStats returns the counters of the active stream reader, or zero stats when disconnected.
func (m *Manager) ReaderStats() ReaderStats {
	m.mu.Lock()
	reader := m.reader
	m.mu.Unlock()

	if reader == nil {
		return ReaderStats{}
	}
	return reader.Stats()
}

// Connect starts connecting in the background and reports whether a new retry
// loop was started. It is a logged no-op when already connected or connecting,
// when the radio is off, or when no paired device matches the prefix.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	return m.connectLocked()
}

// connectIfCurrent reconnects after link loss unless Close or another Connect
// has moved the generation on since the loss was handled.
func (m *Manager) connectIfCurrent(gen uint64) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.logger.Debug("Link was closed during recovery, not reconnecting")
		return false
	}
	return m.connectLocked()
}

// connectLocked is called with m.mu held and releases it.
func (m *Manager) connectLocked() bool {
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		m.logger.Warn("Connection request while already connected")
		return false
	case StateConnecting:
		m.mu.Unlock()
		m.logger.Warn("Connection request while attempting connection")
		return false
	}
	m.state = StateConnecting
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	candidates, ok := m.candidates()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state != StateConnecting {
		// Close ran while the adapter was being queried
		return false
	}
	if !ok {
		m.state = StateDisconnected
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.loopDone = groutine.Start(ctx, "link-retry-loop", func(ctx context.Context) {
		m.retryLoop(ctx, gen, candidates)
	})
	return true
}

// candidates checks the radio and snapshots the paired devices matching the prefix.
func (m *Manager) candidates() ([]Device, bool) {
	if !m.opts.Adapter.RadioEnabled() {
		m.logger.Info("Bluetooth radio unavailable or disabled, not connecting")
		return nil, false
	}

	paired, err := m.opts.Adapter.PairedDevices()
	if err != nil {
		m.logger.WithError(err).Error("Failed to list paired devices")
		return nil, false
	}

	candidates := SelectDevices(paired, m.opts.Prefix)
	if len(candidates) == 0 {
		m.logger.WithFields(logrus.Fields{
			"prefix": m.opts.Prefix,
			"paired": len(paired),
		}).Info("No paired device matches prefix, not connecting")
		return nil, false
	}

	if err := m.opts.Adapter.CancelDiscovery(); err != nil {
		m.logger.WithError(err).Debug("Failed to cancel discovery")
	}
	return candidates, true
}

func (m *Manager) retryLoop(ctx context.Context, gen uint64, candidates []Device) {
	for attempt := 0; ; {
		for _, dev := range candidates {
			if ctx.Err() != nil {
				m.logger.Info("Connection attempts cancelled")
				return
			}

			m.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"device":  dev.String(),
			}).Info("Attempting connection")

			sock, err := m.openSocket(ctx, dev)
			if err != nil {
				m.logger.WithFields(logrus.Fields{
					"attempt": attempt,
					"device":  dev.String(),
				}).WithError(err).Info("Connection attempt failed")
				continue
			}

			if !m.commit(gen, dev, sock) {
				m.logger.WithField("device", dev.String()).Info("Connection superseded, releasing socket")
				closeSocket(sock, m.logger)
				return
			}

			m.logger.WithField("device", dev.String()).Info("Connected")
			m.notify(EventConnected, dev)
			return
		}

		attempt++
		if attempt >= m.opts.MaxAttempts {
			break
		}
		if !groutine.Sleep(ctx, m.opts.RetryInterval) {
			m.logger.Info("Connection attempts cancelled")
			return
		}
	}

	m.logger.WithField("attempts", m.opts.MaxAttempts).Info("Stopping connection attempts")
	if m.abandon(gen) {
		m.notify(EventFailed, Device{})
	}
}

// openSocket opens a socket under ConnectTimeout. The factory call runs in its
// own goroutine so a factory that ignores ctx cannot stall the retry loop; a
// socket that shows up after the deadline is closed.
func (m *Manager) openSocket(ctx context.Context, dev Device) (Socket, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	type result struct {
		sock Socket
		err  error
	}
	results := make(chan result, 1)

	groutine.Go(ctx, "link-socket-open", func(ctx context.Context) {
		sock, err := m.opts.Factory.OpenSocket(ctx, dev, m.opts.ServiceID)
		results <- result{sock: sock, err: err}
	})

	select {
	case res := <-results:
		if res.err != nil {
			if res.sock != nil {
				closeSocket(res.sock, m.logger)
			}
			return nil, res.err
		}
		if res.sock == nil {
			return nil, fmt.Errorf("socket factory returned no socket for %s", dev)
		}
		return res.sock, nil
	case <-ctx.Done():
		groutine.Go(context.Background(), "link-socket-reaper", func(context.Context) {
			if res := <-results; res.sock != nil {
				closeSocket(res.sock, m.logger)
			}
		})
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("open socket to %s: %w", dev, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

// commit installs a freshly opened socket if the loop that opened it is still current.
func (m *Manager) commit(gen uint64, dev Device, sock Socket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state != StateConnecting {
		return false
	}

	m.state = StateConnected
	m.device = dev
	m.socket = sock
	m.loopCancel = nil
	m.loopDone = nil

	m.reader = newStreamReader(m, m.opts.Handler, m.opts.ReadBufferSize, m.opts.IdleInterval, m.logger)
	m.reader.start()
	return true
}

// abandon moves a loop that ran out of attempts back to Disconnected.
func (m *Manager) abandon(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state != StateConnecting {
		return false
	}
	m.state = StateDisconnected
	m.loopCancel = nil
	m.loopDone = nil
	return true
}

// OnLinkLost handles an unsolicited disconnect reported by the link observer.
// Events for any device other than the connected one are ignored. The state
// moves to Disconnected immediately; teardown, the Disconnected notification
// and the reconnect run in the background.
func (m *Manager) OnLinkLost(dev Device) {
	m.mu.Lock()
	if m.state != StateConnected || !m.device.Equal(dev) {
		m.mu.Unlock()
		m.logger.WithField("device", dev.String()).Debug("Ignoring link loss for unrelated device")
		return
	}

	lost := m.device
	reader, sock := m.detachLocked()
	gen := m.generation
	m.mu.Unlock()

	m.logger.WithField("device", lost.String()).Info("Received bluetooth disconnect notice")

	groutine.Go(context.Background(), "link-recovery", func(context.Context) {
		m.release(reader, sock)
		if !m.isCurrent(gen) {
			m.logger.WithField("device", lost.String()).Debug("Link was closed during recovery")
			return
		}
		m.notify(EventDisconnected, lost)
		m.connectIfCurrent(gen)
	})
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}

// Close tears the link down synchronously: it cancels any retry loop, stops the
// reader (waiting at most StopTimeout) and closes input, output and socket.
// No notification is emitted. Calling Close again is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	m.generation++
	cancel, loopDone := m.loopCancel, m.loopDone
	reader, sock := m.detachLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		if !groutine.Join(loopDone, m.opts.StopTimeout) {
			m.logger.Warn("Retry loop did not stop in time")
		}
	}

	if reader == nil && sock == nil {
		return
	}
	m.release(reader, sock)
	m.logger.Info("Released bluetooth connections")
}

// detachLocked moves to Disconnected and hands back the resources to release.
// The reader is interrupted right away; joining it is left to release, outside the lock.
func (m *Manager) detachLocked() (*StreamReader, Socket) {
	reader, sock := m.reader, m.socket

	m.state = StateDisconnected
	m.generation++
	m.device = Device{}
	m.socket = nil
	m.reader = nil
	m.loopCancel = nil
	m.loopDone = nil

	if reader != nil {
		reader.interrupt()
	}
	return reader, sock
}

func (m *Manager) release(reader *StreamReader, sock Socket) {
	if reader != nil && !reader.stop(m.opts.StopTimeout) {
		m.logger.WithField("timeout", m.opts.StopTimeout).Warn("Stream reader did not stop in time, closing socket anyway")
	}
	closeSocket(sock, m.logger)
}

// Resume subscribes to link-loss events and makes sure a link exists: it
// connects when disconnected and re-announces the link when already connected.
// The observer stays subscribed even when ErrNoCandidates is returned.
func (m *Manager) Resume(observer LinkObserver) error {
	if observer != nil {
		unsubscribe, err := observer.Subscribe(m.OnLinkLost)
		if err != nil {
			return fmt.Errorf("subscribe to link events: %w", err)
		}

		m.mu.Lock()
		previous := m.unsubscribe
		m.unsubscribe = unsubscribe
		m.mu.Unlock()

		if previous != nil {
			previous()
		}
	}

	if dev, ok := m.Device(); ok {
		m.notify(EventConnected, dev)
		return nil
	}
	if !m.Connect() && m.State() == StateDisconnected {
		return ErrNoCandidates
	}
	return nil
}

// Pause stops listening for link-loss events. The link itself is left untouched.
func (m *Manager) Pause() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Manager) notify(t EventType, dev Device) {
	m.opts.Notifier.Notify(Event{Type: t, Device: dev, Time: time.Now()})
}

func (m *Manager) activeSocket() (Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.socket == nil {
		return nil, errLinkDown
	}
	return m.socket, nil
}

// Available returns the number of bytes that can be read without blocking.
func (m *Manager) Available() (int, error) {
	sock, err := m.activeSocket()
	if err != nil {
		return 0, err
	}

	n, err := sock.Input().Available()
	if err != nil {
		return 0, linkLost("available", err)
	}
	return n, nil
}

// Read reads from the link. It fails with ErrLinkLost when not connected.
func (m *Manager) Read(p []byte) (int, error) {
	sock, err := m.activeSocket()
	if err != nil {
		return 0, err
	}

	m.readMu.Lock()
	defer m.readMu.Unlock()

	n, err := sock.Input().Read(p)
	if err != nil {
		return n, linkLost("read", err)
	}
	return n, nil
}

// ReadByte reads a single byte from the link.
func (m *Manager) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(m, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Write sends p over the link. A successful write returns (len(p), nil); it
// fails with ErrLinkLost when not connected or when the transport write fails.
func (m *Manager) Write(p []byte) (int, error) {
	sock, err := m.activeSocket()
	if err != nil {
		return 0, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	n, err := sock.Output().Write(p)
	if err != nil {
		return n, linkLost("write", err)
	}
	return n, nil
}

// WriteByte sends a single byte over the link.
func (m *Manager) WriteByte(b byte) error {
	_, err := m.Write([]byte{b})
	return err
}
