package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

const exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"

// newRootCmd builds the command tree. Every call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "motolink",
		Short: "Telemetry link for motorcycle BLE data units",
		Long: `Connects to a motorcycle telemetry unit over Bluetooth Low Energy and exposes
its LIN and CAN bus frames and configuration channel:

- Find nearby units
- Monitor deduplicated LIN frames, CAN frames and configuration changes
- Read and write individual characteristics
- Bridge the data stream to a PTY for serial-style tools
- Record raw bus frames to a log file for offline analysis`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().BoolP("verbose", "V", false, "Shorthand for --log-level debug")
	root.PersistentFlags().String("frame-log", "", "Append raw LIN/CAN frames to this file; overrides the config file")

	root.AddCommand(newScanCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newBridgeCmd())
	root.AddCommand(newInfoCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
