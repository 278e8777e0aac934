package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/nus"
	"github.com/srg/btserial/pkg/config"
	"github.com/srg/btserial/pkg/link"
)

// transport bundles the platform pieces a Manager needs.
type transport struct {
	adapter  link.Adapter
	factory  link.SocketFactory
	observer link.LinkObserver
	closers  []func() error
}

func (t *transport) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		errs = append(errs, t.closers[i]())
	}
	return errors.Join(errs...)
}

// openTransportFunc is replaced in tests.
var openTransportFunc = openTransport

func openTransport(cfg *config.Config, logger *logrus.Logger) (*transport, error) {
	if cfg.Transport == config.TransportNUS {
		return newNUSTransport(cfg, logger), nil
	}
	return newRFCOMMTransport(cfg, logger)
}

func newNUSTransport(cfg *config.Config, logger *logrus.Logger) *transport {
	t := nus.NewTransport(nus.Options{ScanTimeout: cfg.ScanTimeout}, logger)
	return &transport{adapter: t, factory: t, observer: t}
}
