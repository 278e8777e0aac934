package link

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxAttempts is the number of sweeps over the candidate devices before giving up.
	DefaultMaxAttempts = 30

	// DefaultRetryInterval is the pause between two sweeps.
	DefaultRetryInterval = time.Second

	// DefaultConnectTimeout bounds a single socket open.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadBufferSize is the capacity of the framing window.
	DefaultReadBufferSize = 125

	// DefaultIdleInterval is how long the reader sleeps when it has nothing to do.
	DefaultIdleInterval = 10 * time.Millisecond

	// DefaultStopTimeout bounds how long teardown waits for the reader to exit.
	DefaultStopTimeout = time.Second
)

// Options configures a Manager. Adapter and Factory are required; zero values
// elsewhere fall back to the defaults above.
type Options struct {
	Prefix    string    // device name prefix, case-insensitive
	ServiceID uuid.UUID // defaults to SerialPortServiceUUID

	Adapter  Adapter
	Factory  SocketFactory
	Handler  MessageHandler // defaults to DiscardHandler
	Notifier Notifier       // defaults to a no-op notifier
	Logger   *logrus.Logger

	MaxAttempts    int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
	ReadBufferSize int
	IdleInterval   time.Duration
	StopTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ServiceID == uuid.Nil {
		o.ServiceID = SerialPortServiceUUID
	}
	if o.Handler == nil {
		o.Handler = DiscardHandler
	}
	if o.Notifier == nil {
		o.Notifier = nopNotifier{}
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	return o
}
