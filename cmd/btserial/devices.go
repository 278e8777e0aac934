package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/btserial/pkg/link"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices and mark connection candidates",
	Long: `Lists the devices the adapter knows as paired, in the order connection
attempts would use them. Devices whose name starts with --prefix are marked
as candidates. For the nus transport, paired devices are the Nordic UART
peripherals found during a scan.

Example:
  btserial devices --prefix BMX
  btserial devices --transport nus`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, _ []string) error {
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

	tr, err := openTransportFunc(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	if !tr.adapter.RadioEnabled() {
		return fmt.Errorf("bluetooth adapter %s is off or missing: %w", cfg.Adapter, link.ErrNoCandidates)
	}

	paired, err := tr.adapter.PairedDevices()
	if err != nil {
		return fmt.Errorf("failed to list paired devices: %w", err)
	}

	return writeDeviceTable(cmd.OutOrStdout(), paired, cfg.Prefix)
}

// writeDeviceTable prints one row per device; candidates get a marker in the first column.
func writeDeviceTable(out io.Writer, devices []link.Device, prefix string) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No paired devices found.")
		return err
	}

	marker := color.New(color.FgGreen, color.Bold).SprintFunc()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tADDRESS\tID")

	candidates := 0
	for _, d := range devices {
		mark := ""
		if d.MatchesPrefix(prefix) {
			mark = marker("*")
			candidates++
		}
		name := d.Name
		if name == "" {
			name = "-"
		}
		address := d.Address
		if address == "" {
			address = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, name, address, d.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\n%d of %d devices match prefix %q\n", candidates, len(devices), prefix)
	return err
}
