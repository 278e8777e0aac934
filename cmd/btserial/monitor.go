package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btserial"
	"github.com/srg/btserial/internal/lua"
	"github.com/srg/btserial/pkg/config"
	"github.com/srg/btserial/pkg/framing"
	"github.com/srg/btserial/pkg/link"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print framed messages and link events",
	Long: `Connects to the first paired device matching --prefix and prints every
complete message it sends, together with connect, disconnect and failure events.

Framing is chosen with one of:
  --delimiter STR     split on a delimiter (Go escapes allowed, default "\n")
  --length-prefixed   2-byte big-endian length followed by the payload
  --script FILE       Lua script defining frame(data); call emit(msg) per message
  --lua               the built-in Lua newline framing script

Example:
  btserial monitor --prefix BMX
  btserial monitor --prefix BMX --delimiter '\r\n' --hex
  btserial monitor --prefix BMX --script frames.lua`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorDelimiter      string
	monitorLengthPrefixed bool
	monitorScript         string
	monitorLua            bool
	monitorHex            bool
)

func init() {
	monitorCmd.Flags().StringVar(&monitorDelimiter, "delimiter", `\n`, "Frame delimiter, Go escape sequences allowed")
	monitorCmd.Flags().BoolVar(&monitorLengthPrefixed, "length-prefixed", false, "Frames carry a 2-byte big-endian length header")
	monitorCmd.Flags().StringVar(&monitorScript, "script", "", "Lua framing script file")
	monitorCmd.Flags().BoolVar(&monitorLua, "lua", false, "Use the built-in Lua framing script")
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Print messages as hex")
	monitorCmd.MarkFlagsMutuallyExclusive("length-prefixed", "script", "lua")
	monitorCmd.MarkFlagsMutuallyExclusive("delimiter", "length-prefixed")
	monitorCmd.MarkFlagsMutuallyExclusive("delimiter", "script")
	monitorCmd.MarkFlagsMutuallyExclusive("delimiter", "lua")
}

// monitorPrinter serializes message and event lines coming from different goroutines.
type monitorPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	hex     bool
	scripts *lua.OutputCollector
}

func (p *monitorPrinter) message(msg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushScriptOutput()

	if p.hex {
		fmt.Fprintln(p.out, hex.EncodeToString(msg))
		return
	}
	fmt.Fprintln(p.out, string(msg))
}

func (p *monitorPrinter) event(ev link.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushScriptOutput()

	var c *color.Color
	switch ev.Type {
	case link.EventConnected:
		c = color.New(color.FgGreen)
	case link.EventDisconnected:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed)
	}

	line := fmt.Sprintf("[%s] %s", ev.Time.Format(time.TimeOnly), ev.Type)
	if ev.Type != link.EventFailed {
		line += " " + ev.Device.String()
	}
	c.Fprintln(p.errOut, line)
}

// flushScriptOutput writes pending print() output of the framing script; p.mu must be held.
func (p *monitorPrinter) flushScriptOutput() {
	if p.scripts == nil {
		return
	}
	if text := p.scripts.DrainText(); text != "" {
		fmt.Fprint(p.errOut, text)
	}
}

// frameOptions selects the framing handler.
type frameOptions struct {
	delimiter      string
	lengthPrefixed bool
	script         string
	builtinScript  bool
}

// newFrameHandler builds the handler for opts. The returned cleanup releases the
// Lua engine, if one was created.
func newFrameHandler(opts frameOptions, cfg *config.Config, printer *monitorPrinter, logger *logrus.Logger) (link.MessageHandler, func(), error) {
	maxFrame := cfg.ReadBufferSize
	if maxFrame <= 0 {
		maxFrame = link.DefaultReadBufferSize
	}
	fopts := []framing.Option{framing.WithMaxFrame(maxFrame), framing.WithLogger(logger)}

	switch {
	case opts.script != "" || opts.builtinScript:
		source, name := btserial.DefaultFrameScript, "frame.lua"
		if opts.script != "" {
			data, err := os.ReadFile(opts.script)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read script file: %w", err)
			}
			source, name = string(data), opts.script
		}

		engine := lua.NewEngine(logger)
		collector, err := lua.NewOutputCollector(engine.OutputChannel(), 256)
		if err != nil {
			engine.Close()
			return nil, nil, err
		}
		if err := collector.Start(); err != nil {
			engine.Close()
			return nil, nil, err
		}
		printer.scripts = collector

		handler, err := lua.NewFrameHandler(engine, source, name, printer.message, logger)
		cleanup := func() {
			engine.Close()
			collector.Stop()
			printer.mu.Lock()
			printer.flushScriptOutput()
			printer.mu.Unlock()
		}
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return handler, cleanup, nil

	case opts.lengthPrefixed:
		return framing.LengthPrefixed(printer.message, fopts...), func() {}, nil

	default:
		delim, err := parseDelimiter(opts.delimiter)
		if err != nil {
			return nil, nil, err
		}
		return framing.Delimited(delim, printer.message, fopts...), func() {}, nil
	}
}

// parseDelimiter interprets Go escape sequences such as \r\n or \x00.
func parseDelimiter(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("delimiter must not be empty")
	}
	unquoted, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid delimiter %q: %w", s, err)
	}
	return []byte(unquoted), nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	printer := &monitorPrinter{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), hex: monitorHex}
	handler, cleanup, err := newFrameHandler(frameOptions{
		delimiter:      monitorDelimiter,
		lengthPrefixed: monitorLengthPrefixed,
		script:         monitorScript,
		builtinScript:  monitorLua,
	}, cfg, printer, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	s, err := newSession(cfg, logger, handler)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := s.start()
	if err != nil {
		return err
	}
	defer sub.Close()

	return watchEvents(ctx, sub.C(), printer)
}

// watchEvents prints events until ctx ends or the link gives up.
func watchEvents(ctx context.Context, events <-chan link.Event, printer *monitorPrinter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printer.event(ev)
			if ev.Type == link.EventFailed {
				return fmt.Errorf("monitor stopped: %w", link.ErrExhausted)
			}
		}
	}
}
