package goble

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/groutine"
)

const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultOperationTimeout = 5 * time.Second

	// DefaultBondTimeout bounds a pairing request; pairing may wait on the user.
	DefaultBondTimeout = 30 * time.Second

	// closeWaitTimeout bounds how long Close waits for in-flight GATT calls.
	closeWaitTimeout = time.Second
)

// Bonder pairs with a peripheral on behalf of the transport.
type Bonder interface {
	Pair(ctx context.Context, address string) error
}

// Options configures a Transport.
type Options struct {
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	BondTimeout      time.Duration
	Bonder           Bonder // nil: RequestBonding returns ErrUnsupported
}

// Transport is a device.Transport over go-ble.
type Transport struct {
	opts   Options
	logger *logrus.Logger
}

func NewTransport(opts Options, logger *logrus.Logger) *Transport {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.BondTimeout <= 0 {
		opts.BondTimeout = DefaultBondTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{opts: opts, logger: logger}
}

// Close releases the bonder if it holds resources. Handles are closed by their owners.
func (t *Transport) Close() error {
	if c, ok := t.opts.Bonder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Connect dials the peripheral and reports ConnConnected before returning the handle.
func (t *Transport) Connect(ctx context.Context, address string, cb device.Callbacks) (device.Handle, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	cb.ConnectionStateChanged(device.ConnConnecting)

	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": t.opts.ConnectTimeout,
	}).Debug("Dialing BLE device...")

	client, err := Dial(connCtx, address)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, NormalizeError(err)
	}

	hctx, hcancel := context.WithCancel(context.Background())
	h := &bleHandle{
		address:     address,
		client:      client,
		cb:          cb,
		bonder:      t.opts.Bonder,
		opTimeout:   t.opts.OperationTimeout,
		bondTimeout: t.opts.BondTimeout,
		logger:      t.logger,
		chars:       make(map[device.CharacteristicRef]*ble.Characteristic),
		ctx:         hctx,
		cancel:      hcancel,
	}
	h.monitorDisconnect()

	t.logger.WithField("address", address).Info("BLE device connected")
	cb.ConnectionStateChanged(device.ConnConnected)
	return h, nil
}

// bleHandle issues each GATT call on its own named goroutine and reports the
// result through the callbacks.
type bleHandle struct {
	address     string
	client      GATTClient
	cb          device.Callbacks
	bonder      Bonder
	opTimeout   time.Duration
	bondTimeout time.Duration
	logger      *logrus.Logger

	mu     sync.RWMutex
	chars  map[device.CharacteristicRef]*ble.Characteristic
	infos  []device.CharacteristicInfo
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	ops    groutine.Group
}

// monitorDisconnect reports a platform-side disconnection once.
func (h *bleHandle) monitorDisconnect() {
	disconnected := h.client.Disconnected()
	if disconnected == nil {
		h.logger.Debug("Client does not report disconnections")
		return
	}
	groutine.Go(h.ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-disconnected:
			h.logger.WithField("address", h.address).Warn("BLE stack reported disconnection")
			h.cb.ConnectionStateChanged(device.ConnDisconnected)
		case <-ctx.Done():
		}
	})
}

func (h *bleHandle) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// run issues op on a named goroutine. Results are dropped once the handle is closed.
func (h *bleHandle) run(name string, op func()) error {
	if h.isClosed() {
		return device.ErrNotConnected
	}
	h.ops.Go(h.ctx, name, func(ctx context.Context) {
		op()
	})
	return nil
}

func (h *bleHandle) lookup(ref device.CharacteristicRef) (*ble.Characteristic, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, device.ErrNotConnected
	}
	c, ok := h.chars[ref]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ref.Service, ref.UUID}}
	}
	return c, nil
}

func (h *bleHandle) DiscoverCapabilities() error {
	return h.run("gatt-discover", func() {
		profile, err := h.client.DiscoverProfile(true)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"address": h.address,
				"error":   err,
			}).Error("Failed to discover profile")
			h.report(func() { h.cb.CapabilitiesDiscovered(statusOf(err)) })
			return
		}

		chars := make(map[device.CharacteristicRef]*ble.Characteristic)
		infos := make([]device.CharacteristicInfo, 0)
		for _, svc := range profile.Services {
			svcUUID := svc.UUID.String()
			for _, c := range svc.Characteristics {
				ref := device.NewCharacteristicRef(svcUUID, c.UUID.String())
				chars[ref] = c
				infos = append(infos, device.CharacteristicInfo{Ref: ref, Properties: NewProperties(c.Property)})
			}
		}
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].Ref.String() < infos[j].Ref.String()
		})

		h.mu.Lock()
		h.chars = chars
		h.infos = infos
		h.mu.Unlock()

		h.logger.WithFields(logrus.Fields{
			"address":         h.address,
			"services":        len(profile.Services),
			"characteristics": len(infos),
		}).Debug("Profile discovered successfully")
		h.report(func() { h.cb.CapabilitiesDiscovered(device.StatusSuccess) })
	})
}

func (h *bleHandle) ReadCharacteristic(ref device.CharacteristicRef) error {
	c, err := h.lookup(ref)
	if err != nil {
		return err
	}
	return h.run("gatt-read", func() {
		data, err := h.client.ReadCharacteristic(c)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"ref":   ref.String(),
				"error": err,
			}).Debug("Read failed")
		}
		h.report(func() { h.cb.CharacteristicRead(ref, bytes.Clone(data), statusOf(err)) })
	})
}

func (h *bleHandle) WriteCharacteristic(ref device.CharacteristicRef, data []byte, mode device.WriteMode) error {
	c, err := h.lookup(ref)
	if err != nil {
		return err
	}
	if mode == device.WriteSigned {
		return fmt.Errorf("%w: signed writes are not available on this stack", device.ErrUnsupported)
	}
	payload := bytes.Clone(data)
	noRsp := mode == device.WriteWithoutResponse
	return h.run("gatt-write", func() {
		err := h.client.WriteCharacteristic(c, payload, noRsp)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"ref":   ref.String(),
				"error": err,
			}).Debug("Write failed")
		}
		h.report(func() { h.cb.CharacteristicWritten(ref, payload, statusOf(err)) })
	})
}

func (h *bleHandle) SetCharacteristicNotify(ref device.CharacteristicRef, enabled bool) error {
	c, err := h.lookup(ref)
	if err != nil {
		return err
	}
	ind := useIndication(c.Property)
	return h.run("gatt-notify", func() {
		var err error
		if enabled {
			err = h.client.Subscribe(c, ind, func(data []byte) {
				if h.isClosed() {
					return
				}
				h.cb.CharacteristicChanged(ref, bytes.Clone(data))
			})
		} else {
			err = h.client.Unsubscribe(c, ind)
		}
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"ref":     ref.String(),
				"enabled": enabled,
				"error":   err,
			}).Debug("Descriptor write failed")
		}
		h.report(func() { h.cb.DescriptorWritten(ref, enabled, statusOf(err)) })
	})
}

func (h *bleHandle) RequestBonding() error {
	if h.bonder == nil {
		return fmt.Errorf("%w: bonding", device.ErrUnsupported)
	}
	return h.run("ble-bonding", func() {
		ctx, cancel := context.WithTimeout(h.ctx, h.bondTimeout)
		defer cancel()
		if err := h.bonder.Pair(ctx, h.address); err != nil {
			h.logger.WithFields(logrus.Fields{
				"address": h.address,
				"error":   err,
			}).Error("Bonding failed")
			return
		}
		h.logger.WithField("address", h.address).Info("Bonding completed")
	})
}

func (h *bleHandle) Characteristics() []device.CharacteristicInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]device.CharacteristicInfo, len(h.infos))
	copy(out, h.infos)
	return out
}

func (h *bleHandle) Disconnect() error {
	if h.isClosed() {
		return nil
	}
	if err := h.client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Close releases the handle. Completions of calls still in flight are dropped.
func (h *bleHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeWaitTimeout):
		h.logger.WithField("address", h.address).Warn("GATT operations still in flight after close")
	}
	return nil
}

// report delivers a completion unless the handle was closed meanwhile.
func (h *bleHandle) report(fn func()) {
	if h.isClosed() {
		return
	}
	fn()
}
