package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/motolink/bridge"
	"github.com/srg/motolink/internal/device"
)

type bridgeOptions struct {
	symlink string
	mode    string
}

func newBridgeCmd() *cobra.Command {
	var opts bridgeOptions
	cmd := &cobra.Command{
		Use:   "bridge [device-address]",
		Short: "Expose the telemetry stream on a PTY",
		Long: fmt.Sprintf(`Connects, subscribes to the telemetry characteristics and creates a PTY
(pseudoterminal) that serial tools can open.

Every data event is written to the PTY as one line, "<source> <HEX>":
  lin 0501020304
  can 1A2B3C
Hex lines typed into the PTY are written to the command characteristic.

Examples:
  motolink bridge %s
  motolink bridge %s --symlink /tmp/motolink`, exampleDeviceAddress, exampleDeviceAddress),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.symlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/motolink)")
	cmd.Flags().StringVar(&opts.mode, "mode", "with-response", "Write mode for commands: with-response or without-response")
	return cmd
}

func runBridge(cmd *cobra.Command, args []string, opts bridgeOptions) error {
	mode, err := device.ParseWriteMode(opts.mode)
	if err != nil {
		return err
	}

	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	ls, err := openLink(ctx, cmd, firstArg(args))
	if err != nil {
		return err
	}
	defer ls.close()

	if err := ls.subscribeProfile(); err != nil {
		return err
	}

	b, err := bridge.Open(ls.mgr, bridge.Options{
		TTYSymlinkPath:   opts.symlink,
		CommandWriteMode: mode,
		Logger:           ls.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			ls.logger.WithField("error", err).Warn("Failed to close bridge")
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "PTY: %s\n", b.TTYName())
	if b.TTYSymlink() != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Symlink: %s -> %s\n", b.TTYSymlink(), b.TTYName())
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Bridge running. Press Ctrl+C to stop...")

	if err := b.Run(ctx); err != nil {
		if errors.Is(err, bridge.ErrLinkLost) {
			return ErrConnectionLost
		}
		return err
	}

	stats := b.Stats()
	ls.logger.WithFields(logrus.Fields{
		"sent":             stats.WriteBytesTotal,
		"received":         stats.ReadBytesTotal,
		"dropped_to_pty":   stats.DroppedWriteBytes,
		"dropped_from_pty": stats.DroppedReadBytes,
	}).Info("Bridge stopped")
	return nil
}
