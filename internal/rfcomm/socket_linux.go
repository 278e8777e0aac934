package rfcomm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/srg/btserial/pkg/link"
	"golang.org/x/sys/unix"
)

// Socket is a connected stream socket exposed as a link.Socket. Input and
// output are half-closed with shutdown(2); Close releases the descriptor.
type Socket struct {
	file *os.File
	in   *inputStream
	out  *outputStream

	closeOnce sync.Once
	closeErr  error
}

var _ link.Socket = (*Socket)(nil)

// NewSocket takes ownership of a connected stream socket descriptor.
// The descriptor is switched to non-blocking mode so reads go through the runtime poller.
func NewSocket(fd int, name string) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set non-blocking on %s: %w", name, err)
	}

	file := os.NewFile(uintptr(fd), name)
	if file == nil {
		return nil, fmt.Errorf("invalid descriptor %d for %s", fd, name)
	}

	s := &Socket{file: file}
	s.in = &inputStream{sock: s}
	s.out = &outputStream{sock: s}
	return s, nil
}

func (s *Socket) Input() link.InputStream { return s.in }
func (s *Socket) Output() io.WriteCloser  { return s.out }

// Close releases the descriptor. Calling it again returns the first result.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}

// control runs fn with the raw descriptor, failing once the socket is closed.
func (s *Socket) control(fn func(fd int) error) error {
	raw, err := s.file.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error
	if err := raw.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

func (s *Socket) shutdown(how int) error {
	err := s.control(func(fd int) error { return unix.Shutdown(fd, how) })
	if errors.Is(err, unix.ENOTCONN) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

type inputStream struct {
	sock *Socket
	once sync.Once
	err  error
}

func (in *inputStream) Read(p []byte) (int, error) {
	return in.sock.file.Read(p)
}

// Available returns the bytes queued in the kernel receive buffer.
func (in *inputStream) Available() (int, error) {
	var n int
	err := in.sock.control(func(fd int) error {
		var err error
		n, err = unix.IoctlGetInt(fd, unix.TIOCINQ)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("query pending bytes: %w", err)
	}
	return n, nil
}

func (in *inputStream) Close() error {
	in.once.Do(func() { in.err = in.sock.shutdown(unix.SHUT_RD) })
	return in.err
}

type outputStream struct {
	sock *Socket
	once sync.Once
	err  error
}

func (out *outputStream) Write(p []byte) (int, error) {
	return out.sock.file.Write(p)
}

func (out *outputStream) Close() error {
	out.once.Do(func() { out.err = out.sock.shutdown(unix.SHUT_WR) })
	return out.err
}
