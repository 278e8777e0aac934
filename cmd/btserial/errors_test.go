package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/btserial/pkg/link"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "nil", err: nil, contains: ""},
		{name: "no candidates", err: fmt.Errorf("resume: %w", link.ErrNoCandidates), contains: "Pair the device first"},
		{name: "exhausted", err: fmt.Errorf("bridge stopped: %w", link.ErrExhausted), contains: "gave up connecting"},
		{name: "unsupported", err: fmt.Errorf("rfcomm: %w", link.ErrUnsupported), contains: "not supported on this system"},
		{name: "link lost", err: link.ErrLinkLost, contains: "connection lost"},
		{name: "not connected", err: fmt.Errorf("send: %w", &link.ConnectionError{State: link.LinkLost, Err: link.ErrNotConnected}), contains: "not connected"},
		{name: "plain error", err: errors.New("boom"), contains: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatUserError(tt.err)
			if tt.contains == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.contains)
		})
	}
}
