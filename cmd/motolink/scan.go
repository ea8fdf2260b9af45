package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/motolink/scanner"
)

type scanOptions struct {
	duration time.Duration
	all      bool
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find telemetry units nearby",
		Long: `Listens for BLE advertisements and lists the telemetry units found, strongest
signal first. Use the address with monitor, read, write or bridge.

Examples:
  motolink scan
  motolink scan --duration 5s --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "Scan duration")
	cmd.Flags().BoolVar(&opts.all, "all", false, "List every advertiser, not only telemetry units")
	return cmd
}

func runScan(cmd *cobra.Command, opts scanOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for telemetry units", "Scanning")
	progress.Start()
	results, err := scanner.NewScanner(cfg.Profile.Service, logger).Scan(ctx, &scanner.ScanOptions{
		Duration:        opts.duration,
		DuplicateFilter: true,
		TelemetryOnly:   !opts.all,
	}, progress.SetPhase)
	progress.Stop()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		return errors.New("no telemetry units found")
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tTELEMETRY")
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", r.Address, name, r.RSSI, r.Telemetry)
	}
	return w.Flush()
}
