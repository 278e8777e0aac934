//go:build !linux

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/config"
	"github.com/srg/btserial/pkg/link"
)

func newRFCOMMTransport(*config.Config, *logrus.Logger) (*transport, error) {
	return nil, fmt.Errorf("rfcomm transport needs BlueZ, use --transport nus: %w", link.ErrUnsupported)
}
