// Package bridge exposes a telemetry link as a PTY: every data event becomes a
// text line on the slave side, and hex lines typed into the slave are written
// to the command characteristic.
//
// Lines sent to the PTY have the form "<source> <HEX>", for example:
//
//	lin 0501020304
//	can 1A2B3C
//	command 57525701
package bridge

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
	"github.com/srg/motolink/internal/ptyio"
)

const (
	// DefaultPtyWriteBufferSize is the default size, in bytes, of the buffer for data sent to the PTY.
	DefaultPtyWriteBufferSize = 64 * 1024

	// DefaultPtyReadBufferSize is the default size, in bytes, of the buffer for data typed into the PTY.
	DefaultPtyReadBufferSize = 4 * 1024

	maxLineLength = 1024
	lineQueueSize = 64
)

// ErrLinkLost is returned by Run when the link disconnects underneath the bridge.
var ErrLinkLost = errors.New("link lost")

// Link is the part of link.Manager the bridge drives.
type Link interface {
	Events() *link.EventBus
	Profile() link.Profile
	Write(ref device.CharacteristicRef, data []byte, mode device.WriteMode) error
}

// Options configures a bridge. Zero values use the defaults.
type Options struct {
	TTYSymlinkPath     string           // optional symlink to the PTY slave (e.g. /tmp/motolink)
	PtyWriteBufferSize int              // bytes queued toward the PTY
	PtyReadBufferSize  int              // bytes queued from the PTY
	CommandWriteMode   device.WriteMode // mode for lines written to the command characteristic
	Logger             *logrus.Logger
}

// Bridge connects a link's event stream to a PTY.
type Bridge struct {
	link    Link
	profile link.Profile
	mode    device.WriteMode
	logger  *logrus.Logger

	pty     *ptyio.PTY
	sub     *link.Subscription
	symlink string

	lines   chan []byte
	partial []byte // touched only by the PTY dispatcher goroutine
}

// Open creates the PTY and starts listening to l's events. Run moves the data.
func Open(l Link, opts Options) (*Bridge, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PtyWriteBufferSize <= 0 {
		opts.PtyWriteBufferSize = DefaultPtyWriteBufferSize
	}
	if opts.PtyReadBufferSize <= 0 {
		opts.PtyReadBufferSize = DefaultPtyReadBufferSize
	}

	pty, err := ptyio.Open(ptyio.Options{
		ReadCap:  opts.PtyReadBufferSize,
		WriteCap: opts.PtyWriteBufferSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		link:    l,
		profile: l.Profile(),
		mode:    opts.CommandWriteMode,
		logger:  logger,
		pty:     pty,
		lines:   make(chan []byte, lineQueueSize),
	}

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			_ = pty.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		b.symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": b.symlink,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	b.sub = l.Events().Subscribe(link.EventDataAvailable, link.EventDisconnected)
	pty.SetReadCallback(b.onPTYData)
	return b, nil
}

// TTYName returns the PTY slave path.
func (b *Bridge) TTYName() string {
	return b.pty.TTYName()
}

// TTYSymlink returns the symlink path, or "" when none was requested.
func (b *Bridge) TTYSymlink() string {
	return b.symlink
}

func (b *Bridge) Stats() ptyio.Stats {
	return b.pty.Stats()
}

// Run moves data in both directions until ctx ends or the link drops.
// Cancellation is a normal stop and returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pumpEvents(gctx) })
	g.Go(func() error { return b.pumpLines(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (b *Bridge) pumpEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.sub.C():
			if !ok || ev.Kind == link.EventDisconnected {
				return ErrLinkLost
			}
			if len(ev.Data) == 0 {
				continue
			}
			line := FormatLine(b.source(ev.Ref), ev.Data)
			if _, err := b.pty.Write([]byte(line)); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) pumpLines(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-b.lines:
			payload, err := ParseLine(line)
			if err != nil {
				b.logger.WithField("error", err).Warn("Ignoring PTY input line")
				continue
			}
			if payload == nil {
				continue
			}
			if err := b.link.Write(b.profile.Command, payload, b.mode); err != nil {
				b.logger.WithFields(logrus.Fields{
					"bytes": len(payload),
					"error": err,
				}).Warn("Failed to queue command from PTY")
			}
		}
	}
}

// onPTYData splits PTY input into lines. It must not block the PTY dispatcher.
func (b *Bridge) onPTYData(data []byte) {
	b.partial = append(b.partial, data...)
	for {
		i := bytes.IndexAny(b.partial, "\r\n")
		if i < 0 {
			break
		}
		line := bytes.Clone(b.partial[:i])
		b.partial = b.partial[i+1:]
		if len(line) == 0 {
			continue
		}
		select {
		case b.lines <- line:
		default:
			b.logger.WithField("bytes", len(line)).Warn("PTY input queue full, dropping line")
		}
	}
	if len(b.partial) > maxLineLength {
		b.logger.WithField("bytes", len(b.partial)).Warn("PTY input line too long, discarding")
		b.partial = nil
	}
}

// source names the origin of a data event on the PTY.
func (b *Bridge) source(ref device.CharacteristicRef) string {
	switch ref.UUID {
	case b.profile.LIN.UUID:
		return link.BusLIN
	case b.profile.CAN.UUID:
		return link.BusCAN
	case b.profile.Command.UUID:
		return "command"
	default:
		return ref.String()
	}
}

// FormatLine renders one PTY output line.
func FormatLine(source string, data []byte) string {
	return source + " " + strings.ToUpper(hex.EncodeToString(data)) + "\n"
}

// ParseLine decodes one PTY input line. Blank lines and lines starting with
// '#' yield nil; spaces, colons and a 0x prefix are ignored.
func ParseLine(line []byte) ([]byte, error) {
	s := strings.TrimSpace(string(line))
	if s == "" || strings.HasPrefix(s, "#") {
		return nil, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", string(line), err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Close removes the symlink, stops event delivery and closes the PTY.
func (b *Bridge) Close() error {
	var errs []error
	if b.symlink != "" {
		if err := os.Remove(b.symlink); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove tty symlink: %w", err))
		} else {
			b.logger.WithField("ttySymlink", b.symlink).Debug("Removed tty symlink")
		}
	}
	b.sub.Close()
	if err := b.pty.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
