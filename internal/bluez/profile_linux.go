package bluez

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/rfcomm"
	"github.com/srg/btserial/pkg/link"
	"golang.org/x/sys/unix"
)

var profileCounter atomic.Uint64

// ProfileFactory opens serial links through BlueZ: it registers a client
// Profile1 for the service, asks the device to ConnectProfile, and receives
// the connected RFCOMM descriptor through NewConnection.
type ProfileFactory struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *logrus.Logger

	mu       sync.Mutex
	closed   bool
	profiles map[uuid.UUID]*profile
}

var _ link.SocketFactory = (*ProfileFactory)(nil)

// NewProfileFactory creates a factory on conn for devices of the named adapter.
func NewProfileFactory(conn *dbus.Conn, adapter string, logger *logrus.Logger) *ProfileFactory {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProfileFactory{
		conn:     conn,
		adapter:  AdapterPath(adapter),
		logger:   logger,
		profiles: make(map[uuid.UUID]*profile),
	}
}

type acceptResult struct {
	fd  int
	err error
}

// profile implements org.bluez.Profile1 for one service and routes incoming
// descriptors to the OpenSocket call waiting for that device.
type profile struct {
	path   dbus.ObjectPath
	logger *logrus.Logger

	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan acceptResult
}

func (p *profile) expect(dev dbus.ObjectPath) chan acceptResult {
	ch := make(chan acceptResult, 1)
	p.mu.Lock()
	p.waiters[dev] = ch
	p.mu.Unlock()
	return ch
}

// forget drops the waiter and closes a descriptor that was delivered but never collected.
func (p *profile) forget(dev dbus.ObjectPath, ch chan acceptResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.waiters[dev] == ch {
		delete(p.waiters, dev)
	}
	select {
	case res := <-ch:
		if res.err == nil {
			_ = unix.Close(res.fd)
		}
	default:
	}
}

// Release is called by BlueZ when the profile is unregistered.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel is called when a pending request is aborted.
func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection hands the connected descriptor to the waiting OpenSocket.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.waiters[dev]
	if !ok {
		p.logger.WithField("device", dev).Warn("Rejecting unexpected profile connection")
		_ = unix.Close(int(fd))
		return dbus.NewError("org.bluez.Error.Rejected", []interface{}{"no pending connection"})
	}

	// buffered and sent under the lock so forget never misses a descriptor
	delete(p.waiters, dev)
	ch <- acceptResult{fd: int(fd)}
	return nil
}

func (f *ProfileFactory) profileFor(service uuid.UUID) (*profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("profile factory closed")
	}
	if p, ok := f.profiles[service]; ok {
		return p, nil
	}

	p := &profile{
		path:    dbus.ObjectPath("/org/btserial/profile/p" + strconv.FormatUint(profileCounter.Add(1), 10)),
		logger:  f.logger,
		waiters: make(map[dbus.ObjectPath]chan acceptResult),
	}
	if err := f.conn.Export(p, p.path, profileIface); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Role":                  dbus.MakeVariant("client"),
		"AutoConnect":           dbus.MakeVariant(false),
		"RequireAuthentication": dbus.MakeVariant(false),
	}
	call := f.conn.Object(bluezService, bluezRoot).Call(profileManagerIface+".RegisterProfile", 0, p.path, service.String(), opts)
	if call.Err != nil {
		_ = f.conn.Export(nil, p.path, profileIface)
		return nil, fmt.Errorf("RegisterProfile %s: %w", service, call.Err)
	}

	f.logger.WithFields(logrus.Fields{
		"service": service.String(),
		"path":    p.path,
	}).Debug("Registered client profile")

	f.profiles[service] = p
	return p, nil
}

// OpenSocket connects the serial profile of dev and returns the resulting socket.
// Devices that do not advertise the service are reported as link.ErrUnsupported.
func (f *ProfileFactory) OpenSocket(ctx context.Context, dev link.Device, service uuid.UUID) (link.Socket, error) {
	p, err := f.profileFor(service)
	if err != nil {
		return nil, err
	}

	devPath := dbus.ObjectPath(dev.ID)
	if !devPath.IsValid() || dev.ID == "" {
		if dev.Address == "" {
			return nil, fmt.Errorf("device %s has no object path or address", dev)
		}
		devPath = DevicePath(f.adapter, dev.Address)
	}

	waiter := p.expect(devPath)
	defer p.forget(devPath, waiter)

	call := f.conn.Object(bluezService, devPath).CallWithContext(ctx, deviceIface+".ConnectProfile", 0, service.String())
	if call.Err != nil {
		switch errorName(call.Err) {
		case "org.bluez.Error.NotSupported", "org.bluez.Error.NotAvailable", "org.bluez.Error.DoesNotExist":
			return nil, fmt.Errorf("ConnectProfile %s: %v: %w", dev, call.Err, link.ErrUnsupported)
		}
		return nil, fmt.Errorf("ConnectProfile %s: %w", dev, call.Err)
	}

	select {
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}
		return rfcomm.NewSocket(res.fd, fmt.Sprintf("bluez:%s", devPath))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters every profile. Sockets already handed out stay open.
func (f *ProfileFactory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	profiles := f.profiles
	f.profiles = nil
	f.mu.Unlock()

	manager := f.conn.Object(bluezService, bluezRoot)
	for service, p := range profiles {
		if err := manager.Call(profileManagerIface+".UnregisterProfile", 0, p.path).Err; err != nil {
			f.logger.WithError(err).WithField("service", service.String()).Warn("Failed to unregister profile")
		}
		_ = f.conn.Export(nil, p.path, profileIface)
	}
	return nil
}
