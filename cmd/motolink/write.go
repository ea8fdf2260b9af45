package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

// commandReplyTimeout bounds the wait for a configuration record after a command write.
const commandReplyTimeout = time.Second

type writeOptions struct {
	service string
	hex     bool
	mode    string
}

func newWriteCmd() *cobra.Command {
	var opts writeOptions
	cmd := &cobra.Command{
		Use:   "write <device-address> <characteristic> <data>",
		Short: "Write a value to a characteristic",
		Long: fmt.Sprintf(`Writes data through the link command queue and waits for the acknowledgement.

Writes to the command characteristic are followed by a read of the reply;
a configuration record in the reply is printed as a config_changed event.

Examples:
  # Send a command as hex
  motolink write %s command 575257 --hex

  # Write without response
  motolink write %s 02997340-015f-11e5-a5a9-0002a5d5c51b/00000005-007c-11e5-9ad8-0002a5d5c51b 575257 --hex --mode without-response`,
			exampleDeviceAddress, exampleDeviceAddress),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (optional; resolved from discovery if omitted)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Interpret data as a hex string")
	cmd.Flags().StringVar(&opts.mode, "mode", "with-response", "Write mode: with-response, without-response, or signed")
	return cmd
}

func parsePayload(arg string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(arg), nil
	}
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(arg)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", arg, err)
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, args []string, opts writeOptions) error {
	data, err := parsePayload(args[2], opts.hex)
	if err != nil {
		return err
	}
	mode, err := device.ParseWriteMode(opts.mode)
	if err != nil {
		return err
	}

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
	if err := ls.mgr.Write(ref, data, mode); err != nil {
		return err
	}

	opCtx, opCancel := context.WithTimeout(ctx, ls.cfg.OperationTimeout)
	defer opCancel()
	ev, err := ls.await(opCtx, "write to "+ref.String(),
		refMatches(ref, link.EventWriteSucceeded, link.EventWriteFailed))
	if err != nil {
		return err
	}
	if ev.Kind == link.EventWriteFailed {
		return fmt.Errorf("write to %s failed: %w", ev.Ref, ev.Err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), ev.Ref)

	// The command characteristic answers with a queued read; show a config change if it carries one.
	if matchesCommand(ls.mgr.Profile(), ev.Ref) {
		replyCtx, replyCancel := context.WithTimeout(ctx, min(commandReplyTimeout, ls.cfg.OperationTimeout))
		defer replyCancel()
		if reply, err := ls.await(replyCtx, "command reply", kindIs(link.EventConfigChanged)); err == nil {
			return newEventPrinter(cmd.OutOrStdout(), ls.mgr.Profile(), false).Print(reply)
		}
	}
	return nil
}

func matchesCommand(profile link.Profile, ref device.CharacteristicRef) bool {
	return profile.Command.UUID == ref.UUID
}
