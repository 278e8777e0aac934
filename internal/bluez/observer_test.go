package bluez

import (
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/srg/btserial/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignals struct {
	mu       sync.Mutex
	channels []chan<- *dbus.Signal
	matches  int
}

func (f *fakeSignals) Signal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
}

func (f *fakeSignals) RemoveSignal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.channels {
		if c == ch {
			f.channels = append(f.channels[:i], f.channels[i+1:]...)
			return
		}
	}
}

func (f *fakeSignals) AddMatchSignal(...dbus.MatchOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches++
	return nil
}

func (f *fakeSignals) RemoveMatchSignal(...dbus.MatchOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches--
	return nil
}

func (f *fakeSignals) emit(sig *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		ch <- sig
	}
}

func TestObserver_ReportsDisconnect(t *testing.T) {
	bus := &fakeSignals{}
	o := NewObserver(bus, quietLogger())

	lost := make(chan link.Device, 4)
	unsubscribe, err := o.Subscribe(func(d link.Device) { lost <- d })
	require.NoError(t, err)

	path := DevicePath(AdapterPath("hci0"), "AA:BB:CC:DD:EE:FF")
	bus.emit(&dbus.Signal{Path: path, Name: propsIface + ".PropertiesChanged", Body: []interface{}{
		deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-50))}, []string{},
	}})
	bus.emit(&dbus.Signal{Path: path, Name: propsIface + ".PropertiesChanged", Body: []interface{}{
		deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}, []string{},
	}})

	select {
	case dev := <-lost:
		assert.Equal(t, string(path), dev.ID)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", dev.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect MUST be reported")
	}
	assert.Empty(t, lost, "unrelated property changes MUST NOT be reported")

	unsubscribe()
	unsubscribe()

	bus.mu.Lock()
	assert.Empty(t, bus.channels, "unsubscribe MUST detach the signal channel")
	assert.Equal(t, 0, bus.matches, "unsubscribe MUST remove the match rule")
	bus.mu.Unlock()
}
