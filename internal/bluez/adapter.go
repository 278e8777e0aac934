package bluez

import (
	"fmt"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/link"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// objectSource is the part of *dbus.Conn the adapter needs.
type objectSource interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Adapter exposes one BlueZ adapter as a link.Adapter.
//
// Paired devices keep the order in which the adapter first reported them, so
// the connection sweep order is stable across calls; devices seen together
// for the first time are ordered by object path.
type Adapter struct {
	bus    objectSource
	path   dbus.ObjectPath
	logger *logrus.Logger

	mu    sync.Mutex
	known *orderedmap.OrderedMap[dbus.ObjectPath, link.Device]
}

var _ link.Adapter = (*Adapter)(nil)

// NewAdapter creates an Adapter for the named controller, e.g. "hci0".
func NewAdapter(bus objectSource, name string, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		bus:    bus,
		path:   AdapterPath(name),
		logger: logger,
		known:  orderedmap.New[dbus.ObjectPath, link.Device](),
	}
}

// Path returns the adapter object path.
func (a *Adapter) Path() dbus.ObjectPath { return a.path }

// RadioEnabled reports whether the adapter exists and is powered.
func (a *Adapter) RadioEnabled() bool {
	v, err := a.bus.Object(bluezService, a.path).GetProperty(adapterIface + ".Powered")
	if err != nil {
		a.logger.WithError(err).WithField("adapter", a.path).Debug("Failed to read adapter power state")
		return false
	}
	powered, _ := v.Value().(bool)
	return powered
}

// PairedDevices lists the devices paired with this adapter.
func (a *Adapter) PairedDevices() ([]link.Device, error) {
	var objs managedObjects
	call := a.bus.Object(bluezService, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}

	current := make(map[dbus.ObjectPath]link.Device)
	for path, ifaces := range objs {
		if dev, ok := pairedDevice(a.path, path, ifaces); ok {
			current[path] = dev
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for pair := a.known.Oldest(); pair != nil; {
		next := pair.Next()
		if _, ok := current[pair.Key]; !ok {
			a.known.Delete(pair.Key)
		}
		pair = next
	}

	fresh := make([]dbus.ObjectPath, 0, len(current))
	for path, dev := range current {
		if _, ok := a.known.Get(path); ok {
			a.known.Set(path, dev) // refresh name, keep position
			continue
		}
		fresh = append(fresh, path)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	for _, path := range fresh {
		a.known.Set(path, current[path])
	}

	devices := make([]link.Device, 0, a.known.Len())
	for pair := a.known.Oldest(); pair != nil; pair = pair.Next() {
		devices = append(devices, pair.Value)
	}
	return devices, nil
}

// CancelDiscovery stops an ongoing discovery. Having nothing to stop is not an error.
func (a *Adapter) CancelDiscovery() error {
	err := a.bus.Object(bluezService, a.path).Call(adapterIface+".StopDiscovery", 0).Err
	if err == nil {
		return nil
	}

	switch errorName(err) {
	case "org.bluez.Error.Failed", "org.bluez.Error.NotReady":
		return nil
	}
	return fmt.Errorf("StopDiscovery: %w", err)
}
