package link

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/groutine"
)

// byteSource is what the reader pulls from; the Manager's pass-through accessors satisfy it.
type byteSource interface {
	Available() (int, error)
	Read(p []byte) (int, error)
}

// ReaderStats are counters for one StreamReader lifetime.
type ReaderStats struct {
	BytesRead          uint64
	BytesConsumed      uint64
	Messages           uint64 // handler calls that consumed at least one byte
	ReadErrors         uint64
	ContractViolations uint64 // handler results outside [0, buffered] or panics
}

// StreamReader runs the framing loop for one Connected period: it pulls bytes
// into a fixed-capacity window and hands them to the MessageHandler.
//
// The window is never grown. When it is full and the handler consumes nothing,
// no more bytes are read until the handler makes room.
type StreamReader struct {
	src     byteSource
	handler MessageHandler
	logger  *logrus.Logger
	idle    time.Duration

	buf      []byte
	buffered int

	cancel context.CancelFunc
	done   <-chan struct{}

	bytesRead     atomic.Uint64
	bytesConsumed atomic.Uint64
	messages      atomic.Uint64
	readErrors    atomic.Uint64
	violations    atomic.Uint64
}

func newStreamReader(src byteSource, handler MessageHandler, size int, idle time.Duration, logger *logrus.Logger) *StreamReader {
	return &StreamReader{
		src:     src,
		handler: handler,
		logger:  logger,
		idle:    idle,
		buf:     make([]byte, size),
	}
}

// start launches the loop. Must be called at most once.
func (r *StreamReader) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = groutine.Start(ctx, "link-stream-reader", r.run)
}

// interrupt asks the loop to exit without waiting for it.
func (r *StreamReader) interrupt() {
	if r.cancel != nil {
		r.cancel()
	}
}

// stop interrupts the loop and waits up to timeout for it to exit.
// Returns false if the loop was still running when the wait gave up.
func (r *StreamReader) stop(timeout time.Duration) bool {
	r.interrupt()
	return groutine.Join(r.done, timeout)
}

// Stats returns a snapshot of the reader counters.
func (r *StreamReader) Stats() ReaderStats {
	return ReaderStats{
		BytesRead:          r.bytesRead.Load(),
		BytesConsumed:      r.bytesConsumed.Load(),
		Messages:           r.messages.Load(),
		ReadErrors:         r.readErrors.Load(),
		ContractViolations: r.violations.Load(),
	}
}

func (r *StreamReader) run(ctx context.Context) {
	r.logger.WithField("capacity", len(r.buf)).Info("Starting serial read loop")
	defer r.logger.Info("Shutting down serial read loop")

	for ctx.Err() == nil {
		progressed, err := r.cycle()
		if err != nil && ctx.Err() == nil {
			r.readErrors.Add(1)
			r.logger.WithError(err).Error("Error reading serial data")
		}

		if !progressed {
			if !groutine.Sleep(ctx, r.idle) {
				return
			}
		}
	}
}

// cycle performs one read-then-deliver step. It reports whether any bytes were
// read or consumed, so the caller can back off when the stream is idle.
func (r *StreamReader) cycle() (progressed bool, err error) {
	avail, err := r.src.Available()
	if err == nil && avail > 0 && r.buffered < len(r.buf) {
		var n int
		n, err = r.src.Read(r.buf[r.buffered:])
		if n > 0 {
			r.buffered += n
			r.bytesRead.Add(uint64(n))
			progressed = true
		}
		r.logger.WithField("bytes", n).Debug("Read from link")
	}

	if r.buffered > 0 && r.deliver() > 0 {
		progressed = true
	}

	return progressed, err
}

// deliver hands the buffered bytes to the handler and drops the consumed prefix.
func (r *StreamReader) deliver() (consumed int) {
	consumed = r.callHandler()

	switch {
	case consumed < 0:
		r.violations.Add(1)
		r.logger.WithField("consumed", consumed).Error("Message handler returned a negative count, ignoring")
		consumed = 0
	case consumed > r.buffered:
		r.violations.Add(1)
		r.logger.WithFields(logrus.Fields{
			"consumed": consumed,
			"buffered": r.buffered,
		}).Error("Message handler consumed more than was buffered, clamping")
		consumed = r.buffered
	}

	if consumed > 0 {
		// unread tail moves to the front, order preserved
		copy(r.buf, r.buf[consumed:r.buffered])
		r.buffered -= consumed
		r.bytesConsumed.Add(uint64(consumed))
		r.messages.Add(1)
	}
	return consumed
}

func (r *StreamReader) callHandler() (consumed int) {
	defer func() {
		if p := recover(); p != nil {
			r.violations.Add(1)
			r.logger.WithError(fmt.Errorf("%v", p)).Error("Message handler panicked (recovered)")
			consumed = 0
		}
	}()
	return r.handler.HandleMessage(r.buf[:r.buffered])
}
