// Package bluez talks to the BlueZ daemon over the D-Bus system bus: adapter
// state, paired devices, serial-port profile connections and link-loss signals.
package bluez

import (
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/srg/btserial/pkg/link"
)

const (
	bluezService        = "org.bluez"
	bluezRoot           = dbus.ObjectPath("/org/bluez")
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	propsIface          = "org.freedesktop.DBus.Properties"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// AdapterPath returns the object path of a named adapter ("hci0" -> /org/bluez/hci0).
func AdapterPath(name string) dbus.ObjectPath {
	return bluezRoot + dbus.ObjectPath("/"+name)
}

// DevicePath returns the object path BlueZ uses for address under adapter.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return adapter + dbus.ObjectPath("/dev_"+strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

// addressFromPath recovers the Bluetooth address from a device object path.
func addressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+len("/dev_"):], "_", ":")
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		s, _ := v.Value().(string)
		return s
	}
	return ""
}

func boolProp(props map[string]dbus.Variant, name string) (value, present bool) {
	if v, ok := props[name]; ok {
		b, ok := v.Value().(bool)
		return b, ok
	}
	return false, false
}

// pairedDevice extracts a paired device of adapter from one managed object.
// Alias is preferred over Name because it reflects user renames.
func pairedDevice(adapter, path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (link.Device, bool) {
	props, ok := ifaces[deviceIface]
	if !ok {
		return link.Device{}, false
	}
	if owner, ok := props["Adapter"]; ok {
		if p, _ := owner.Value().(dbus.ObjectPath); p != adapter {
			return link.Device{}, false
		}
	}
	if paired, _ := boolProp(props, "Paired"); !paired {
		return link.Device{}, false
	}

	name := stringProp(props, "Alias")
	if name == "" {
		name = stringProp(props, "Name")
	}
	address := stringProp(props, "Address")
	if address == "" {
		address = addressFromPath(path)
	}

	return link.Device{ID: string(path), Name: name, Address: address}, true
}

// lostDevice reports the device whose Connected property dropped to false in a
// PropertiesChanged signal.
func lostDevice(sig *dbus.Signal) (link.Device, bool) {
	if sig == nil || sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return link.Device{}, false
	}
	if iface, _ := sig.Body[0].(string); iface != deviceIface {
		return link.Device{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return link.Device{}, false
	}
	connected, present := boolProp(changed, "Connected")
	if !present || connected {
		return link.Device{}, false
	}

	return link.Device{ID: string(sig.Path), Address: addressFromPath(sig.Path)}, true
}

// errorName returns the D-Bus error name carried by err, or "".
func errorName(err error) string {
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name
	}
	var val dbus.Error
	if errors.As(err, &val) {
		return val.Name
	}
	return ""
}
