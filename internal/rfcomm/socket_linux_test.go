package rfcomm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/btserial/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns a Socket and the raw peer descriptor it is connected to.
func socketPair(t *testing.T) (*Socket, int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	sock, err := NewSocket(fds[0], "test")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sock.Close()
		_ = unix.Close(fds[1])
	})
	return sock, fds[1]
}

func TestSocket_AvailableAndRead(t *testing.T) {
	sock, peer := socketPair(t)

	n, err := sock.Input().Available()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = unix.Write(peer, []byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := sock.Input().Available()
		return err == nil && n == 5
	}, time.Second, 5*time.Millisecond, "Available MUST report queued bytes")

	buf := make([]byte, 16)
	n, err = sock.Input().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestSocket_Write(t *testing.T) {
	sock, peer := socketPair(t)

	n, err := sock.Output().Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestSocket_CloseSequence(t *testing.T) {
	// GOAL: Verify input, output and socket close independently and repeatedly without errors
	//
	// TEST SCENARIO: close output -> peer sees EOF -> close input -> close socket twice -> Available fails

	sock, peer := socketPair(t)

	require.NoError(t, sock.Output().Close())
	buf := make([]byte, 4)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "peer MUST see EOF after output is closed")

	require.NoError(t, sock.Input().Close())
	require.NoError(t, sock.Input().Close(), "second input close MUST be a no-op")
	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close(), "second socket close MUST be a no-op")
	require.NoError(t, sock.Output().Close())

	_, err = sock.Input().Available()
	assert.Error(t, err, "closed socket MUST NOT report availability")
}

func TestChannelFactory_RequiresAddress(t *testing.T) {
	f := NewChannelFactory(1, nil)

	_, err := f.OpenSocket(context.Background(), link.Device{Name: "BMX-001"}, link.SerialPortServiceUUID)
	assert.True(t, errors.Is(err, link.ErrUnsupported), "missing address MUST be reported as unsupported")

	_, err = f.OpenSocket(context.Background(), link.Device{Name: "BMX-001", Address: "bogus"}, link.SerialPortServiceUUID)
	assert.Error(t, err)
}
