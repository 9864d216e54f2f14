package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/curobridge/internal/ble"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby Curo peripherals",
	Long: `Scan for alpha and stethoscope peripherals for ble.scan_timeout and print
what was found. Nothing is connected.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print peripherals as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	transport := ble.NewBluetoothTransport(cfg.BLE.EventBuffer)
	defer transport.Close()

	peripherals, err := scanFor(cmd.Context(), transport, cfg.BLE.ScanTimeout)
	if err != nil {
		return err
	}
	if scanJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(peripherals)
	}
	printPeripherals(cmd.OutOrStdout(), peripherals)
	return nil
}

// scanFor runs a coordinator without auto-connect for d and returns the
// peripherals it discovered.
func scanFor(ctx context.Context, transport ble.Transport, d time.Duration) ([]ble.Peripheral, error) {
	coord := ble.NewCoordinator(transport, nil, ble.CoordinatorOptions{})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- coord.Run(runCtx) }()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-errCh:
		if err == nil {
			err = ctx.Err()
		}
		return nil, err
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	peripherals, err := coord.Peripherals(runCtx)
	stop()
	<-errCh
	return peripherals, err
}

func printPeripherals(w io.Writer, peripherals []ble.Peripheral) {
	if len(peripherals) == 0 {
		fmt.Fprintln(w, "No Curo peripherals found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tRSSI")
	for _, p := range peripherals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Role, p.RSSI)
	}
	tw.Flush()
}
