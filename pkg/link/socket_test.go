package link

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFallback(t *testing.T) {
	dev := Device{ID: "1", Name: "BMX-001"}

	tests := []struct {
		name           string
		primaryErr     error
		fallbackErr    error
		expectErr      error
		expectPrimary  int
		expectFallback int
	}{
		{name: "primary success skips fallback", expectPrimary: 1},
		{name: "unsupported primary uses fallback", primaryErr: fmt.Errorf("profile: %w", ErrUnsupported), expectPrimary: 0, expectFallback: 1},
		{name: "other primary errors are returned", primaryErr: assert.AnError, expectErr: assert.AnError},
		{name: "fallback error is returned", primaryErr: ErrUnsupported, fallbackErr: ErrTimeout, expectErr: ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeFactory{open: func(context.Context, Device) error { return tt.primaryErr }}
			fallback := &fakeFactory{open: func(context.Context, Device) error { return tt.fallbackErr }}

			sock, err := WithFallback(primary, fallback).OpenSocket(context.Background(), dev, SerialPortServiceUUID)

			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
				assert.Nil(t, sock)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sock)
			assert.Equal(t, tt.expectPrimary, primary.SocketCount(), "primary socket count MUST match")
			assert.Equal(t, tt.expectFallback, fallback.SocketCount(), "fallback MUST only open after ErrUnsupported")
		})
	}
}

func TestWithFallback_NilFallbackReturnsPrimary(t *testing.T) {
	primary := &fakeFactory{}
	assert.Same(t, primary, WithFallback(primary, nil))
}
