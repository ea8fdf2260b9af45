package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

type monitorOptions struct {
	json     bool
	duration time.Duration
	noRev    bool
}

func newMonitorCmd() *cobra.Command {
	var opts monitorOptions
	cmd := &cobra.Command{
		Use:   "monitor [device-address]",
		Short: "Stream bus frames and link events",
		Long: fmt.Sprintf(`Connects, subscribes to the LIN, CAN and command characteristics and prints
every link event until interrupted. LIN frames are deduplicated per message
tag; CAN frames are printed as received.

Examples:
  # Monitor a unit
  motolink monitor %s

  # JSON lines, stop after a minute
  motolink monitor %s --json --duration 1m

  # Also record raw frames
  motolink monitor %s --frame-log frames.log`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print events as JSON lines")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	cmd.Flags().BoolVar(&opts.noRev, "no-revision", false, "Skip reading the hardware revision")
	return cmd
}

// withInterrupt returns a context cancelled on SIGINT or SIGTERM.
func withInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runMonitor(cmd *cobra.Command, args []string, opts monitorOptions) error {
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
	if !opts.noRev {
		if err := ls.mgr.Read(ls.mgr.Profile().HardwareRevision); err != nil {
			ls.logger.WithField("error", err).Debug("Hardware revision not readable")
		}
	}

	if opts.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.duration)
		defer stop()
	}

	peer, _ := ls.mgr.Peer()
	fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring %s. Press Ctrl+C to stop...\n", peer)
	printer := newEventPrinter(cmd.OutOrStdout(), ls.mgr.Profile(), opts.json)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ls.events.C():
			if !ok {
				return ErrConnectionLost
			}
			if err := printer.Print(ev); err != nil {
				return err
			}
			if ev.Kind == link.EventDisconnected {
				return ErrConnectionLost
			}
		}
	}
}

// subscribeProfile enables notifications on the profile characteristics the
// unit advertises. Missing characteristics are skipped.
func (ls *linkSession) subscribeProfile() error {
	subscribed := 0
	for _, ref := range ls.mgr.Profile().Notifiable() {
		err := ls.mgr.SetNotify(ref, true)
		var nf *device.NotFoundError
		switch {
		case err == nil:
			subscribed++
		case errors.As(err, &nf), errors.Is(err, device.ErrUnsupported):
			ls.logger.WithField("characteristic", ref.String()).Warn("Characteristic not notifiable, skipping")
		default:
			return fmt.Errorf("failed to subscribe to %s: %w", ref, err)
		}
	}
	if subscribed == 0 {
		return fmt.Errorf("no notifiable telemetry characteristics found")
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
