// Package ptyio wraps a pseudo-terminal master behind ring buffers so the link
// side never blocks on a slow terminal client, and the terminal side never
// blocks on a slow link.
//
// Bytes written with Write are queued and pushed to the master by a background
// loop. Bytes produced by the slave are buffered and handed to the read
// callback from a dispatcher goroutine. When either ring is full the excess is
// dropped and counted in Stats.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/btserial/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultBufferSize is the ring capacity used when Options leaves it zero.
	DefaultBufferSize = 4096
	// DefaultPollTimeout bounds how long a loop waits before rechecking for shutdown.
	DefaultPollTimeout = 50 * time.Millisecond
	// closeTimeout bounds how long Close waits for the loops to exit.
	closeTimeout = 2 * time.Second
)

// ReadCallback receives bytes the slave produced. The slice is reused after
// the call returns.
type ReadCallback func(data []byte)

// ErrorCallback is invoked at most once per loop when it stops on an unexpected error.
type ErrorCallback func(err error)

// Options configures a PTY. Zero values fall back to the defaults.
type Options struct {
	ReadCap     int // bytes buffered from the slave
	WriteCap    int // bytes queued for the slave
	PollTimeout time.Duration
	Logger      *logrus.Logger
	OnError     ErrorCallback
}

// PTY is a non-blocking pseudo-terminal master.
type PTY interface {
	io.WriteCloser
	TTYName() string
	SetReadCallback(cb ReadCallback)
	Free() int
	Stats() Stats
}

// Stats are running counters for one PTY.
type Stats struct {
	WriteQueueLen     int
	ReadQueueLen      int
	DroppedWriteCount uint64
	DroppedReadCount  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

type ringPTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	pollTimeout int
	onError     ErrorCallback
	errorOnce   sync.Once

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	readCb     atomic.Pointer[ReadCallback]
	readNotify chan struct{}

	cancel context.CancelFunc
	done   []<-chan struct{}
	closed atomic.Bool

	droppedWrite atomic.Uint64
	droppedRead  atomic.Uint64
	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
}

// New opens a PTY pair in raw mode and starts its I/O loops.
func New(opts Options) (PTY, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultBufferSize
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultBufferSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:      opts.Logger,
		master:      master,
		slave:       slave, // kept open so the slave node stays valid until Close
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		onError:     opts.OnError,
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readBuf:     ringbuffer.New(opts.ReadCap),
		readNotify:  make(chan struct{}, 1),
		cancel:      cancel,
	}
	if p.pollTimeout <= 0 {
		p.pollTimeout = 1
	}

	p.done = []<-chan struct{}{
		groutine.Start(ctx, "pty-read-loop", p.readLoop),
		groutine.Start(ctx, "pty-write-loop", p.writeLoop),
		groutine.Start(ctx, "pty-dispatcher", p.dispatch),
	}
	return p, nil
}

func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, err error) (*os.File, *os.File, error) {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set PTY %s %s: %w", name, step, err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("to raw mode", err)
	}
	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("master to non-blocking mode", err)
	}
	return master, slave, nil
}

func (p *ringPTY) fatal(loop string, err error) {
	p.logger.WithError(err).WithField("loop", loop).Warn("PTY loop stopped")
	if p.onError != nil {
		p.errorOnce.Do(func() { p.onError(fmt.Errorf("%s: %w", loop, err)) })
	}
}

func (p *ringPTY) poll(fd int, events int16) int {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(fds, p.pollTimeout)
	if err != nil && !errors.Is(err, syscall.EINTR) {
		p.logger.WithError(err).Debug("PTY poll failed")
	}
	return n
}

func (p *ringPTY) readLoop(ctx context.Context) {
	defer p.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	master := p.master
	fd := int(master.Fd())
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		if p.poll(fd, unix.POLLIN) == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, werr := p.readBuf.Write(buf[:n])
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				p.logger.WithError(werr).Warn("PTY read buffer write failed")
			}
			if written < n {
				p.droppedRead.Add(uint64(n - written))
				p.logger.WithFields(logrus.Fields{
					"received": n,
					"buffered": written,
				}).Warn("PTY read buffer overflow, dropping bytes")
			}
			p.readBytes.Add(uint64(written))
			p.signal()
		}

		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
			// no slave attached; Linux reports EIO until a client opens the tty
			groutine.Sleep(ctx, time.Duration(p.pollTimeout)*time.Millisecond)
		case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
			return
		default:
			p.fatal("read", err)
			return
		}
	}
}

func (p *ringPTY) writeLoop(ctx context.Context) {
	defer p.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	master := p.master
	fd := int(master.Fd())
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		n, err := p.writeBuf.TryRead(buf)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			groutine.Sleep(ctx, time.Duration(p.pollTimeout)*time.Millisecond/10+time.Millisecond)
			continue
		}

		for offset := 0; offset < n && ctx.Err() == nil; {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				p.writeBytes.Add(uint64(written))
			}

			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				p.poll(fd, unix.POLLOUT)
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fatal("write", err)
				return
			}
		}
	}
}

func (p *ringPTY) signal() {
	select {
	case p.readNotify <- struct{}{}:
	default:
	}
}

func (p *ringPTY) dispatch(ctx context.Context) {
	defer p.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.readNotify:
		}

		for ctx.Err() == nil {
			cb := p.readCb.Load()
			if cb == nil {
				break
			}
			n, _ := p.readBuf.TryRead(chunk)
			if n == 0 {
				break
			}
			p.invoke(*cb, chunk[:n])
		}
	}
}

func (p *ringPTY) invoke(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("PTY read callback panicked, unregistering it")
			p.readCb.Store(nil)
		}
	}()
	cb(data)
}

// SetReadCallback installs cb, or removes the callback when cb is nil. Bytes
// buffered while no callback was installed are delivered to the new one.
func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.readCb.Store(nil)
		return
	}
	p.readCb.Store(&cb)
	p.signal()
}

// Write queues data for the slave without blocking. It returns how many bytes
// fit in the queue; the rest are dropped.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return written, err
	}
	if written < len(data) {
		p.droppedWrite.Add(uint64(len(data) - written))
		p.logger.WithFields(logrus.Fields{
			"requested": len(data),
			"queued":    written,
		}).Warn("PTY write buffer overflow, dropping bytes")
	}
	return written, nil
}

// Close stops the loops and closes both ends of the pair.
func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.cancel()
	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}

	for _, done := range p.done {
		if !groutine.Join(done, closeTimeout) {
			p.logger.WithField("tty", p.ttyName).Warn("PTY loop did not exit in time")
		}
	}
	return errors.Join(errs...)
}

// Free is the room left in the write queue.
func (p *ringPTY) Free() int {
	return p.writeBuf.Free()
}

func (p *ringPTY) TTYName() string {
	return p.ttyName
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		ReadQueueLen:      p.readBuf.Length(),
		DroppedWriteCount: p.droppedWrite.Load(),
		DroppedReadCount:  p.droppedRead.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}
