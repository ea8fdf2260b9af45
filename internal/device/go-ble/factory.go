package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
)

// GATTClient is the subset of ble.Client the transport drives.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Dial opens a GATT client to address (can be overridden in tests)
var Dial = func(ctx context.Context, address string) (GATTClient, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}
