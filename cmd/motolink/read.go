package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/motolink/internal/link"
)

type readOptions struct {
	service string
	hex     bool
}

func newReadCmd() *cobra.Command {
	var opts readOptions
	cmd := &cobra.Command{
		Use:   "read <device-address> <characteristic>",
		Short: "Read a characteristic value",
		Long: fmt.Sprintf(`Reads one characteristic through the link command queue and prints its value.

The characteristic is a UUID, "service/uuid", or one of the profile names
lin, can, command and hwrev. LIN reads print only frames the link has not
seen before; command reads print only configuration records.

Examples:
  # Hardware revision
  motolink read %s hwrev

  # Last LIN frame as hex
  motolink read %s lin --hex

  # Any characteristic
  motolink read %s 180a/2a29`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (optional; resolved from discovery if omitted)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Output as hex string (e.g., 'FF01'); raw bytes by default")
	return cmd
}

func runRead(cmd *cobra.Command, args []string, opts readOptions) error {
	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	ls, err := openLink(ctx, cmd, args[0])
	if err != nil {
		return err
	}
	defer ls.close()

	ref, err := resolveRef(ls.mgr.Profile(), args[1], opts.service)
	if err != nil {
		return err
	}
	if err := ls.mgr.Read(ref); err != nil {
		return err
	}

	opCtx, opCancel := context.WithTimeout(ctx, ls.cfg.OperationTimeout)
	defer opCancel()
	ev, err := ls.await(opCtx, "read of "+ref.String(),
		refMatches(ref, link.EventDataAvailable, link.EventHardwareRevision))
	if err != nil {
		return err
	}

	if ev.Kind == link.EventHardwareRevision && !opts.hex {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ev.Revision)
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), formatValue(ev.Data, opts.hex))
	return err
}
