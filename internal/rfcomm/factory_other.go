//go:build !linux

package rfcomm

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/link"
)

// ChannelFactory is only functional on Linux.
type ChannelFactory struct {
	Channel uint8
	Logger  *logrus.Logger
}

func NewChannelFactory(channel uint8, logger *logrus.Logger) *ChannelFactory {
	return &ChannelFactory{Channel: channel, Logger: logger}
}

func (f *ChannelFactory) OpenSocket(context.Context, link.Device, uuid.UUID) (link.Socket, error) {
	return nil, link.ErrUnsupported
}
