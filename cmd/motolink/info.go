package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/motolink/internal/bledb"
	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [device-address]",
		Short: "Show the unit's characteristics and hardware revision",
		Long: fmt.Sprintf(`Connects, discovers the unit's characteristics and prints them together with
the hardware revision and which profile role each characteristic plays.

Example:
  motolink info %s`, exampleDeviceAddress),
		Args: cobra.MaximumNArgs(1),
		RunE: runInfo,
	}
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	ls, err := openLink(ctx, cmd, firstArg(args))
	if err != nil {
		return err
	}
	defer ls.close()

	out := cmd.OutOrStdout()
	profile := ls.mgr.Profile()
	printer := newEventPrinter(out, profile, false)
	peer, _ := ls.mgr.Peer()

	revision := "unknown"
	if err := ls.mgr.Read(profile.HardwareRevision); err == nil {
		opCtx, opCancel := context.WithTimeout(ctx, ls.cfg.OperationTimeout)
		ev, err := ls.await(opCtx, "hardware revision", kindIs(link.EventHardwareRevision))
		opCancel()
		switch {
		case err == nil:
			revision = ev.Revision
		case errors.Is(err, ErrConnectionLost), errors.Is(err, context.Canceled):
			return err
		default:
			ls.logger.WithField("error", err).Warn("Hardware revision not available")
		}
	}

	fmt.Fprintf(out, "Device:            %s\n", peer)
	fmt.Fprintf(out, "Hardware revision: %s\n", revision)
	fmt.Fprintln(out, "Characteristics:")
	for _, info := range ls.mgr.Characteristics() {
		role := printer.label(info.Ref)
		if role == info.Ref.String() {
			role = ""
		}
		line := fmt.Sprintf("  %-8s %s [%s]", role, info.Ref, propertyNames(info.Properties))
		if name := bledb.LookupCharacteristic(info.Ref.UUID); name != "" {
			line += " " + name
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func propertyNames(p device.Property) string {
	return strings.ReplaceAll(p.String(), "|", ",")
}
