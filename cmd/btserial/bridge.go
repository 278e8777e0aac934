package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/btserial/bridge"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose the link as a PTY serial device",
	Long: `Creates a PTY (pseudoterminal) and keeps it connected to the first paired
device matching --prefix. Bytes from the device are written to the PTY, and
bytes written to the PTY are sent to the device.

The PTY outlives the link: when the device drops, the bridge reconnects and
traffic resumes on the same PTY. Input typed while the link is down is dropped.

Example:
  btserial bridge --prefix BMX
  btserial bridge --prefix BMX --symlink /tmp/bmx
  screen /tmp/bmx`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var bridgeSymlink string

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/bmx)")
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	b, err := bridge.New(bridge.Options{TTYSymlinkPath: bridgeSymlink, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	s, err := newSession(cfg, logger, b)
	if err != nil {
		return err
	}
	defer s.Close()
	b.Attach(s.manager)

	sub, err := s.start()
	if err != nil {
		return err
	}
	defer sub.Close()

	tty := b.TTYName()
	if b.TTYSymlink() != "" {
		tty = b.TTYSymlink() + " -> " + tty
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PTY: %s\n", tty)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Bridge", "Connecting", "Failed", "Stopped")
	progress.Start()
	defer progress.Stop()

	return bridge.Run(ctx, sub.C(), progress.Callback())
}
