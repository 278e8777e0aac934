package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/btserial/internal/groutine"
	"github.com/srg/btserial/pkg/link"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <data>",
	Short: "Connect, send data once and exit",
	Long: `Connects to the first paired device matching --prefix, writes the given
data and disconnects. With --read, whatever the device answers within that
time is printed before exiting.

Example:
  btserial send --prefix BMX 'status\r\n'
  btserial send --prefix BMX --hex 0102ff --read 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

var (
	sendHex     bool
	sendTimeout time.Duration
	sendRead    time.Duration
)

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Data is hex encoded")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 60*time.Second, "How long to wait for the link")
	sendCmd.Flags().DurationVar(&sendRead, "read", 0, "Print the reply received within this duration")
}

// parsePayload decodes the command-line data argument.
func parsePayload(arg string, isHex bool) ([]byte, error) {
	if isHex {
		data, err := hex.DecodeString(strings.ReplaceAll(arg, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return data, nil
	}
	return parseDelimiter(arg)
}

// replyBuffer is a link.MessageHandler keeping every byte received.
type replyBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *replyBuffer) HandleMessage(buffered []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(buffered)
	return len(buffered)
}

func (r *replyBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.buf.Bytes())
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	data, err := parsePayload(args[0], sendHex)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	reply := &replyBuffer{}
	s, err := newSession(cfg, logger, reply)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := s.start(link.EventConnected, link.EventFailed)
	if err != nil {
		return err
	}
	defer sub.Close()

	dev, err := sendOnce(ctx, s.manager, sub.C(), data, sendTimeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Sent %d bytes to %s\n", len(data), dev)

	if sendRead > 0 {
		groutine.Sleep(ctx, sendRead)
		_, err = cmd.OutOrStdout().Write(reply.Bytes())
	}
	return err
}

// sendOnce waits for the link to come up, then writes data through w.
func sendOnce(ctx context.Context, w io.Writer, events <-chan link.Event, data []byte, timeout time.Duration) (link.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dev link.Device
	for connected := false; !connected; {
		select {
		case <-ctx.Done():
			return link.Device{}, fmt.Errorf("waiting for link: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return link.Device{}, ErrConnectionLost
			}
			switch ev.Type {
			case link.EventConnected:
				dev, connected = ev.Device, true
			case link.EventFailed:
				return link.Device{}, link.ErrExhausted
			}
		}
	}

	if _, err := w.Write(data); err != nil {
		return dev, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return dev, nil
}
