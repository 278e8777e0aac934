package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/groutine"
	"github.com/srg/btserial/pkg/link"
)

// signalSource is the part of *dbus.Conn the observer needs.
type signalSource interface {
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
}

// Observer turns Device1.Connected=false property changes into link-loss callbacks.
type Observer struct {
	bus    signalSource
	logger *logrus.Logger
}

var _ link.LinkObserver = (*Observer)(nil)

// NewObserver creates an Observer on the given bus connection.
func NewObserver(bus signalSource, logger *logrus.Logger) *Observer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Observer{bus: bus, logger: logger}
}

func (o *Observer) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceIface),
	}
}

// Subscribe starts delivering link-loss events to onLost until the returned
// function is called. onLost runs on the observer goroutine.
func (o *Observer) Subscribe(onLost func(link.Device)) (func(), error) {
	if err := o.bus.AddMatchSignal(o.matchOptions()...); err != nil {
		return nil, fmt.Errorf("add PropertiesChanged match: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	o.bus.Signal(signals)

	ctx, cancel := context.WithCancel(context.Background())
	done := groutine.Start(ctx, "bluez-link-observer", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if dev, lost := lostDevice(sig); lost {
					o.logger.WithField("device", dev.String()).Debug("Device disconnected")
					onLost(dev)
				}
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			o.bus.RemoveSignal(signals)
			if err := o.bus.RemoveMatchSignal(o.matchOptions()...); err != nil {
				o.logger.WithError(err).Debug("Failed to remove PropertiesChanged match")
			}
		})
	}, nil
}
