package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/btserial/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		hex      bool
		expected []byte
		wantErr  bool
	}{
		{name: "escaped text", arg: `status\r\n`, expected: []byte("status\r\n")},
		{name: "hex", arg: "01 02ff", hex: true, expected: []byte{0x01, 0x02, 0xff}},
		{name: "bad hex", arg: "zz", hex: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayload(tt.arg, tt.hex)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, link.ErrLinkLost }

func TestSendOnce(t *testing.T) {
	dev := link.Device{Name: "BMX-001"}

	t.Run("writes after connected", func(t *testing.T) {
		events := make(chan link.Event, 1)
		events <- link.Event{Type: link.EventConnected, Device: dev}

		var out bytes.Buffer
		got, err := sendOnce(context.Background(), &out, events, []byte("ping"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, dev, got)
		assert.Equal(t, "ping", out.String())
	})

	t.Run("failed link", func(t *testing.T) {
		events := make(chan link.Event, 1)
		events <- link.Event{Type: link.EventFailed}

		_, err := sendOnce(context.Background(), &bytes.Buffer{}, events, []byte("ping"), time.Second)
		assert.ErrorIs(t, err, link.ErrExhausted)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := sendOnce(context.Background(), &bytes.Buffer{}, make(chan link.Event), []byte("ping"), 10*time.Millisecond)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "waiting MUST be bounded by the timeout")
	})

	t.Run("write failure", func(t *testing.T) {
		events := make(chan link.Event, 1)
		events <- link.Event{Type: link.EventConnected, Device: dev}

		_, err := sendOnce(context.Background(), failingWriter{}, events, []byte("ping"), time.Second)
		assert.ErrorIs(t, err, ErrConnectionLost)
		assert.ErrorIs(t, err, link.ErrLinkLost)
	})
}
