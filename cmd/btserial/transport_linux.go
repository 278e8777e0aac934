package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/bluez"
	"github.com/srg/btserial/internal/rfcomm"
	"github.com/srg/btserial/pkg/config"
	"github.com/srg/btserial/pkg/link"
)

// newRFCOMMTransport talks to BlueZ on the system bus. Sockets come from a
// registered SPP profile, falling back to a raw RFCOMM channel when BlueZ
// cannot connect the profile.
func newRFCOMMTransport(cfg *config.Config, logger *logrus.Logger) (*transport, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	profiles := bluez.NewProfileFactory(conn, cfg.Adapter, logger)
	return &transport{
		adapter:  bluez.NewAdapter(conn, cfg.Adapter, logger),
		factory:  link.WithFallback(profiles, rfcomm.NewChannelFactory(cfg.RFCOMMChannel, logger)),
		observer: bluez.NewObserver(conn, logger),
		closers:  []func() error{conn.Close, profiles.Close},
	}, nil
}
