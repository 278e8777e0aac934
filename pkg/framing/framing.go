// Package framing provides ready-made link.MessageHandler implementations for
// the two framings most serial peripherals use: delimiter-terminated lines and
// 2-byte length-prefixed packets.
package framing

import (
	"bytes"
	"encoding/binary"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/link"
)

// FrameFunc receives one complete frame. The slice aliases the reader buffer
// and is only valid during the call.
type FrameFunc func(frame []byte)

// Options tune a framing handler.
type Options struct {
	// MaxFrame is the largest frame, header or delimiter included, the handler
	// will wait for. It must not exceed the reader buffer or the stream stalls.
	MaxFrame int
	Logger   *logrus.Logger
}

// Option configures Options.
type Option func(*Options)

// WithMaxFrame overrides the frame size limit.
func WithMaxFrame(n int) Option {
	return func(o *Options) { o.MaxFrame = n }
}

// WithLogger sets the logger used to report discarded bytes.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

func buildOptions(opts []Option) Options {
	o := Options{MaxFrame: link.DefaultReadBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxFrame <= 0 {
		o.MaxFrame = link.DefaultReadBufferSize
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}

type delimited struct {
	delim []byte
	fn    FrameFunc
	opts  Options
}

// Delimited returns a handler that splits the stream on delim and passes each
// frame, without the delimiter, to fn. When MaxFrame bytes are buffered and no
// delimiter has been seen the bytes are discarded.
func Delimited(delim []byte, fn FrameFunc, opts ...Option) link.MessageHandler {
	if len(delim) == 0 {
		panic("framing: empty delimiter")
	}
	return &delimited{delim: append([]byte(nil), delim...), fn: fn, opts: buildOptions(opts)}
}

func (d *delimited) HandleMessage(buffered []byte) int {
	consumed := 0
	for {
		rest := buffered[consumed:]
		idx := bytes.Index(rest, d.delim)
		if idx < 0 {
			break
		}
		d.fn(rest[:idx])
		consumed += idx + len(d.delim)
	}

	if pending := len(buffered) - consumed; pending >= d.opts.MaxFrame {
		d.opts.Logger.WithField("bytes", pending).Warn("No delimiter within max frame size, discarding")
		return len(buffered)
	}
	return consumed
}

const lengthHeaderSize = 2

type lengthPrefixed struct {
	fn   FrameFunc
	opts Options
}

// LengthPrefixed returns a handler for frames carrying a 2-byte big-endian
// payload length in front of the payload. fn receives the payload only. A
// length that could never fit in MaxFrame discards everything buffered.
func LengthPrefixed(fn FrameFunc, opts ...Option) link.MessageHandler {
	return &lengthPrefixed{fn: fn, opts: buildOptions(opts)}
}

func (l *lengthPrefixed) HandleMessage(buffered []byte) int {
	consumed := 0
	for {
		rest := buffered[consumed:]
		if len(rest) < lengthHeaderSize {
			return consumed
		}

		size := int(binary.BigEndian.Uint16(rest))
		if lengthHeaderSize+size > l.opts.MaxFrame {
			l.opts.Logger.WithFields(logrus.Fields{
				"length":    size,
				"max_frame": l.opts.MaxFrame,
			}).Warn("Frame length exceeds max frame size, discarding buffer")
			return len(buffered)
		}
		if len(rest) < lengthHeaderSize+size {
			return consumed
		}

		l.fn(rest[lengthHeaderSize : lengthHeaderSize+size])
		consumed += lengthHeaderSize + size
	}
}
