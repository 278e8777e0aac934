package main

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btserial/pkg/config"
	"github.com/srg/btserial/pkg/link"
)

// memStream is an in-memory link.InputStream.
type memStream struct {
	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
}

func (s *memStream) Push(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Write(p)
}

func (s *memStream) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.data.Len(), nil
}

func (s *memStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.data.Len() == 0 {
		return 0, nil
	}
	return s.data.Read(p)
}

func (s *memStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memSink records writes to the device.
type memSink struct {
	mu      sync.Mutex
	written bytes.Buffer
}

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.Write(p)
}

func (s *memSink) Close() error { return nil }

func (s *memSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

type memSocket struct {
	in  *memStream
	out *memSink
}

func (s *memSocket) Input() link.InputStream { return s.in }
func (s *memSocket) Output() io.WriteCloser  { return s.out }
func (s *memSocket) Close() error            { return nil }

type fakeAdapter struct {
	devices []link.Device
	off     bool
}

func (a *fakeAdapter) RadioEnabled() bool { return !a.off }
func (a *fakeAdapter) PairedDevices() ([]link.Device, error) {
	return append([]link.Device(nil), a.devices...), nil
}
func (a *fakeAdapter) CancelDiscovery() error { return nil }

type nopObserver struct{}

func (nopObserver) Subscribe(func(link.Device)) (func(), error) { return func() {}, nil }

// fakeDevice is what the fake transport connects to.
type fakeDevice struct {
	mu     sync.Mutex
	socket *memSocket
	refuse bool
}

func (d *fakeDevice) OpenSocket(_ context.Context, _ link.Device, _ uuid.UUID) (link.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse {
		return nil, io.ErrUnexpectedEOF
	}
	d.socket = &memSocket{in: &memStream{}, out: &memSink{}}
	return d.socket, nil
}

func (d *fakeDevice) Socket() *memSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socket
}

// installFakeTransport routes openTransportFunc to in-memory fakes for the test.
func installFakeTransport(t *testing.T, adapter *fakeAdapter, dev *fakeDevice) {
	t.Helper()
	previous := openTransportFunc
	openTransportFunc = func(*config.Config, *logrus.Logger) (*transport, error) {
		return &transport{adapter: adapter, factory: dev, observer: nopObserver{}}, nil
	}
	t.Cleanup(func() { openTransportFunc = previous })
}

// newTestCommand returns a command carrying the same persistent flags as rootCmd.
func newTestCommand(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addGlobalFlags(cmd.Flags())
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.ParseFlags(args); err != nil {
		panic(err)
	}
	return cmd
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fastConfig keeps retries short so failing tests do not hang.
func fastConfig(prefix string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Prefix = prefix
	cfg.MaxAttempts = 2
	cfg.RetryInterval = time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.IdleInterval = time.Millisecond
	cfg.StopTimeout = time.Second
	return cfg
}
