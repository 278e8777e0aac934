package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btserial/internal/events"
	"github.com/srg/btserial/pkg/config"
	"github.com/srg/btserial/pkg/link"
)

// session wires config, transport, event bus and link manager for one command run.
type session struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport *transport
	bus       *events.Bus
	manager   *link.Manager
}

// openSession builds everything a link command needs; handler receives the link bytes.
func openSession(cmd *cobra.Command, handler link.MessageHandler) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return newSession(cfg, logger, handler)
}

func newSession(cfg *config.Config, logger *logrus.Logger, handler link.MessageHandler) (*session, error) {
	tr, err := openTransportFunc(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.LinkOptions(logger)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	bus := events.New(logger)
	opts.Adapter = tr.adapter
	opts.Factory = tr.factory
	opts.Handler = handler
	opts.Notifier = bus

	mgr, err := link.NewManager(opts)
	if err != nil {
		bus.Close()
		_ = tr.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, transport: tr, bus: bus, manager: mgr}, nil
}

// start subscribes to lifecycle events of the given types, then starts connecting.
func (s *session) start(types ...link.EventType) (*events.Subscription, error) {
	sub := s.bus.Subscribe(events.DefaultCapacity, types...)
	if err := s.manager.Resume(s.transport.observer); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Close tears the link down and releases the transport.
func (s *session) Close() {
	s.manager.Pause()
	s.manager.Close()
	s.bus.Close()
	if err := s.transport.Close(); err != nil {
		s.logger.WithError(err).Debug("Transport close reported errors")
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			logger.Info("Received interrupt signal, shutting down...")
		}
	}()
	return ctx, stop
}
