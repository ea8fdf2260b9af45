// Package bluez pairs with peripherals through the BlueZ D-Bus API.
//
// The go-ble Linux backend has no pairing support, so security failures on
// Linux escalate to BlueZ's org.bluez.Device1.Pair.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	busName      = "org.bluez"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"
	errAlreadyEx = "org.bluez.Error.AlreadyExists"

	DefaultAdapter = "hci0"
)

// Bonder pairs devices over a private system bus connection, opened on first
// use and released by Close.
type Bonder struct {
	adapter string
	logger  *logrus.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

func NewBonder(adapter string, logger *logrus.Logger) *Bonder {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bonder{adapter: adapter, logger: logger}
}

// deviceObjectPath converts "AA:BB:CC:DD:EE:FF" to "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(addr)), ":", "_")
	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + escaped)
}

func isAlreadyExists(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == errAlreadyEx
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == errAlreadyEx
	}
	return false
}

func (b *Bonder) bus() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	b.conn = conn
	return conn, nil
}

// Paired reports BlueZ's Paired property for the device.
func (b *Bonder) Paired(ctx context.Context, address string) (bool, error) {
	conn, err := b.bus()
	if err != nil {
		return false, err
	}
	obj := conn.Object(busName, deviceObjectPath(b.adapter, address))
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, propsIface+".Get", 0, deviceIface, "Paired").Store(&v); err != nil {
		return false, err
	}
	paired, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Paired is not bool")
	}
	return paired, nil
}

// Pair bonds with the device and marks it trusted. An existing bond counts as success.
func (b *Bonder) Pair(ctx context.Context, address string) error {
	conn, err := b.bus()
	if err != nil {
		return err
	}
	path := deviceObjectPath(b.adapter, address)
	log := b.logger.WithFields(logrus.Fields{
		"address": address,
		"path":    string(path),
	})

	if paired, err := b.Paired(ctx, address); err == nil && paired {
		log.Debug("Device already paired")
		return nil
	}

	obj := conn.Object(busName, path)
	log.Info("Pairing with device...")
	if err := obj.CallWithContext(ctx, deviceIface+".Pair", 0).Err; err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("pair %s: %w", address, err)
	}
	if err := obj.CallWithContext(ctx, propsIface+".Set", 0, deviceIface, "Trusted", dbus.MakeVariant(true)).Err; err != nil {
		log.WithField("error", err).Warn("Failed to mark device trusted")
	}
	log.Info("Device paired")
	return nil
}

// Close releases the system bus connection.
func (b *Bonder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
