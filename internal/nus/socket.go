package nus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/btserial/pkg/link"
)

var errClosed = errors.New("nus: stream closed")

// gattClient is the part of ble.Client the socket drives.
type gattClient interface {
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// Socket is a connected NUS link.
type Socket struct {
	client gattClient
	in     *inputStream
	out    *outputStream
	logger *logrus.Logger

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ link.Socket = (*Socket)(nil)

func newSocket(client gattClient, rxChar *ble.Characteristic, bufferSize, chunkSize int, chunkDelay time.Duration, logger *logrus.Logger) *Socket {
	s := &Socket{
		client: client,
		logger: logger,
		closed: make(chan struct{}),
	}
	s.in = &inputStream{
		buf:    ringbuffer.New(bufferSize),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	s.out = &outputStream{
		client:     client,
		char:       rxChar,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		logger:     logger,
	}
	return s
}

func (s *Socket) Input() link.InputStream { return s.in }
func (s *Socket) Output() io.WriteCloser  { return s.out }

// Close drops the BLE connection. Repeated calls return the first result.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.in.Close()
		s.out.Close()
		if err := s.client.CancelConnection(); err != nil {
			s.closeErr = fmt.Errorf("cancel connection: %w", err)
		}
	})
	return s.closeErr
}

// Closed is closed once Close has been called.
func (s *Socket) Closed() <-chan struct{} { return s.closed }

// inputStream buffers TX notifications for the stream reader.
type inputStream struct {
	mu     sync.Mutex
	buf    *ringbuffer.RingBuffer
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *logrus.Logger
}

// push is the notification handler. Bytes that do not fit are dropped.
func (in *inputStream) push(data []byte) {
	in.mu.Lock()
	n, err := in.buf.Write(data)
	in.mu.Unlock()

	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		in.logger.WithError(err).Warn("Failed to buffer notification")
	}
	if n < len(data) {
		in.logger.WithFields(logrus.Fields{
			"received": len(data),
			"dropped":  len(data) - n,
		}).Warn("Input buffer full, dropping notification bytes")
	}

	select {
	case in.signal <- struct{}{}:
	default:
	}
}

func (in *inputStream) Available() (int, error) {
	select {
	case <-in.done:
		return 0, errClosed
	default:
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	return in.buf.Length(), nil
}

// Read blocks until at least one byte is buffered or the stream is closed.
func (in *inputStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		in.mu.Lock()
		n, err := in.buf.TryRead(p)
		in.mu.Unlock()

		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}

		select {
		case <-in.done:
			return 0, io.EOF
		case <-in.signal:
		}
	}
}

func (in *inputStream) Close() error {
	in.once.Do(func() { close(in.done) })
	return nil
}

// outputStream writes to the RX characteristic in chunks.
type outputStream struct {
	mu         sync.Mutex
	client     gattClient
	char       *ble.Characteristic
	chunkSize  int
	chunkDelay time.Duration
	closed     bool
	logger     *logrus.Logger
}

func (out *outputStream) Write(data []byte) (int, error) {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.closed {
		return 0, errClosed
	}

	written := 0
	for written < len(data) {
		end := written + out.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[written:end]

		if err := out.client.WriteCharacteristic(out.char, chunk, false); err != nil {
			return written, fmt.Errorf("failed to write to RX characteristic: %w", err)
		}
		written = end

		out.logger.WithField("bytes", len(chunk)).Debug("Wrote chunk to device")

		// Small delay between chunks to avoid overwhelming the device
		if written < len(data) && out.chunkDelay > 0 {
			time.Sleep(out.chunkDelay)
		}
	}
	return written, nil
}

func (out *outputStream) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.closed = true
	return nil
}
