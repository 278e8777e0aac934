package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var errStreamClosed = errors.New("stream closed")

// fakeInput is an in-memory InputStream fed by the test.
type fakeInput struct {
	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
	fail   error
	closes atomic.Int32
}

func (f *fakeInput) Push(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Write(p)
}

func (f *fakeInput) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data.Len()
}

func (f *fakeInput) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeInput) Available() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errStreamClosed
	}
	if f.fail != nil {
		return 0, f.fail
	}
	return f.data.Len(), nil
}

func (f *fakeInput) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errStreamClosed
	}
	if f.fail != nil {
		return 0, f.fail
	}
	if f.data.Len() == 0 {
		return 0, nil
	}
	return f.data.Read(p)
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closes.Add(1)
	return nil
}

// fakeOutput records everything written to it.
type fakeOutput struct {
	mu      sync.Mutex
	written bytes.Buffer
	fail    error
	closes  atomic.Int32
}

func (f *fakeOutput) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	return f.written.Write(p)
}

func (f *fakeOutput) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeOutput) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.written.Bytes())
}

type fakeSocket struct {
	dev        Device
	in         *fakeInput
	out        *fakeOutput
	closeDelay time.Duration
	closes     atomic.Int32
}

func newFakeSocket(dev Device) *fakeSocket {
	return &fakeSocket{dev: dev, in: &fakeInput{}, out: &fakeOutput{}}
}

func (s *fakeSocket) Input() InputStream     { return s.in }
func (s *fakeSocket) Output() io.WriteCloser { return s.out }
func (s *fakeSocket) Close() error {
	if s.closeDelay > 0 {
		time.Sleep(s.closeDelay)
	}
	s.closes.Add(1)
	return nil
}

// fakeAdapter serves a fixed paired-device list.
type fakeAdapter struct {
	disabled    bool
	devices     []Device
	err         error
	pairedCalls atomic.Int32
	cancelCalls atomic.Int32
}

func (a *fakeAdapter) RadioEnabled() bool { return !a.disabled }

func (a *fakeAdapter) PairedDevices() ([]Device, error) {
	a.pairedCalls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return append([]Device(nil), a.devices...), nil
}

func (a *fakeAdapter) CancelDiscovery() error {
	a.cancelCalls.Add(1)
	return nil
}

// fakeFactory opens fake sockets; open decides per call, nil means success.
type fakeFactory struct {
	mu         sync.Mutex
	calls      []string
	sockets    []*fakeSocket
	open       func(ctx context.Context, dev Device) error
	closeDelay time.Duration
}

func (f *fakeFactory) OpenSocket(ctx context.Context, dev Device, _ uuid.UUID) (Socket, error) {
	f.mu.Lock()
	f.calls = append(f.calls, dev.Name)
	open := f.open
	f.mu.Unlock()

	if open != nil {
		if err := open(ctx, dev); err != nil {
			return nil, err
		}
	}

	sock := newFakeSocket(dev)
	f.mu.Lock()
	sock.closeDelay = f.closeDelay
	f.sockets = append(f.sockets, sock)
	f.mu.Unlock()
	return sock, nil
}

func (f *fakeFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFactory) LastSocket() *fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) == 0 {
		return nil
	}
	return f.sockets[len(f.sockets)-1]
}

func (f *fakeFactory) SocketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sockets)
}

// fakeObserver lets a test inject link-loss events.
type fakeObserver struct {
	mu      sync.Mutex
	onLost  func(Device)
	removed atomic.Int32
}

func (o *fakeObserver) Subscribe(onLost func(Device)) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onLost = onLost
	return func() {
		o.mu.Lock()
		o.onLost = nil
		o.mu.Unlock()
		o.removed.Add(1)
	}, nil
}

func (o *fakeObserver) Lose(dev Device) bool {
	o.mu.Lock()
	onLost := o.onLost
	o.mu.Unlock()
	if onLost == nil {
		return false
	}
	onLost(dev)
	return true
}

// eventRecorder collects lifecycle events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

func (r *eventRecorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// blockUntilCancelled is a factory behaviour that never connects on its own.
func blockUntilCancelled(ctx context.Context, _ Device) error {
	<-ctx.Done()
	return ctx.Err()
}

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 5 * time.Millisecond
)
