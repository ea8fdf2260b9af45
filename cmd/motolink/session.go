package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/devicefactory"
	"github.com/srg/motolink/internal/framelog"
	"github.com/srg/motolink/internal/link"
	"github.com/srg/motolink/pkg/config"
)

// unsubscribeGrace bounds how long close waits for subscriptions to be torn down.
const unsubscribeGrace = 2 * time.Second

// linkSession is a connected, discovered link plus everything a command
// needs to drive it.
type linkSession struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport device.Transport
	mgr       *link.Manager
	events    *link.Subscription
	recorder  *framelog.Recorder
}

// openLink loads configuration, connects to address and waits for discovery.
func openLink(ctx context.Context, cmd *cobra.Command, address string) (*linkSession, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	if address == "" {
		address = cfg.Device.Address
	}
	if address == "" {
		return nil, fmt.Errorf("device address required: pass it as an argument or set device.address in the config file")
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ls := &linkSession{cfg: cfg, logger: logger}
	opts := []link.Option{
		link.WithLogger(logger),
		link.WithMaxRetries(cfg.MaxRetries),
		link.WithEventBuffer(cfg.EventBuffer),
	}
	if cfg.FrameLog != "" {
		rec, err := framelog.Open(cfg.FrameLog)
		if err != nil {
			return nil, err
		}
		ls.recorder = rec
		opts = append(opts, link.WithFrameRecorder(rec))
	}

	ls.transport = devicefactory.NewTransport(devicefactory.Options{
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
		Adapter:          cfg.Adapter,
	}, logger)
	ls.mgr = link.New(ls.transport, cfg.LinkProfile(), opts...)
	ls.events = ls.mgr.Events().Subscribe()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := ls.mgr.Connect(connectCtx, address, cfg.Device.Name); err != nil {
		ls.close()
		return nil, err
	}
	if _, err := ls.await(connectCtx, "connection", kindIs(link.EventConnected)); err != nil {
		ls.close()
		return nil, err
	}

	progress.SetPhase("Discovering")
	if err := ls.mgr.DiscoverCapabilities(); err != nil {
		ls.close()
		return nil, err
	}
	ev, err := ls.await(connectCtx, "service discovery", kindIs(link.EventServicesDiscovered, link.EventServiceDiscoveryFailed))
	if err != nil {
		ls.close()
		return nil, err
	}
	if ev.Kind == link.EventServiceDiscoveryFailed {
		ls.close()
		if ev.Err == nil {
			return nil, ErrDiscoveryFailed
		}
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, ev.Err)
	}
	return ls, nil
}

func kindIs(kinds ...link.EventKind) func(link.Event) bool {
	return func(ev link.Event) bool {
		for _, k := range kinds {
			if ev.Kind == k {
				return true
			}
		}
		return false
	}
}

// refMatches selects completion events for ref; an empty service matches any.
func refMatches(ref device.CharacteristicRef, kinds ...link.EventKind) func(link.Event) bool {
	isKind := kindIs(kinds...)
	return func(ev link.Event) bool {
		if !isKind(ev) || ev.Ref.UUID != ref.UUID {
			return false
		}
		return ref.Service == "" || ev.Ref.Service == ref.Service
	}
}

// await consumes events until match accepts one. A Disconnected event ends the
// wait with ErrConnectionLost.
func (ls *linkSession) await(ctx context.Context, what string, match func(link.Event) bool) (link.Event, error) {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return link.Event{}, fmt.Errorf("%w waiting for %s", device.ErrTimeout, what)
			}
			return link.Event{}, ctx.Err()
		case ev, ok := <-ls.events.C():
			if !ok || ev.Kind == link.EventDisconnected {
				return ev, ErrConnectionLost
			}
			if match(ev) {
				return ev, nil
			}
		}
	}
}

// unsubscribe disables every notification and waits, bounded, for the
// confirmations so the peripheral stops streaming before disconnect.
func (ls *linkSession) unsubscribe() {
	if len(ls.mgr.CurrentSubscriptions()) == 0 {
		return
	}
	if err := ls.mgr.UnsubscribeAll(); err != nil {
		ls.logger.WithField("error", err).Debug("Unsubscribe skipped")
		return
	}
	deadline := time.Now().Add(unsubscribeGrace)
	for len(ls.mgr.CurrentSubscriptions()) > 0 && ls.mgr.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

func (ls *linkSession) close() {
	if ls.mgr != nil {
		if ls.mgr.IsConnected() {
			ls.unsubscribe()
		}
		if err := ls.mgr.Close(); err != nil && !errors.Is(err, device.ErrNotConnected) {
			ls.logger.WithField("error", err).Warn("Failed to close link")
		}
	}
	if c, ok := ls.transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			ls.logger.WithField("error", err).Warn("Failed to close transport")
		}
	}
	if ls.recorder != nil {
		if err := ls.recorder.Close(); err != nil {
			ls.logger.WithField("error", err).Warn("Failed to close frame log")
		}
	}
}

// resolveRef turns a CLI characteristic argument into a ref. The forms
// "service/char" and a bare characteristic UUID are accepted; the names
// lin, can, command and hwrev select the profile characteristics.
func resolveRef(profile link.Profile, arg, service string) (device.CharacteristicRef, error) {
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(arg) {
	case "lin":
		return profile.LIN, nil
	case "can":
		return profile.CAN, nil
	case "command", "cmd":
		return profile.Command, nil
	case "hwrev", "hardware-revision":
		return profile.HardwareRevision, nil
	}
	if svc, char, ok := strings.Cut(arg, "/"); ok {
		service, arg = svc, char
	}
	if _, err := device.ValidateUUID(arg); err != nil {
		return device.CharacteristicRef{}, err
	}
	if service != "" {
		if _, err := device.ValidateUUID(service); err != nil {
			return device.CharacteristicRef{}, err
		}
	}
	return device.NewCharacteristicRef(service, arg), nil
}
