package goble

import (
	"fmt"
	"strings"

	"github.com/srg/motolink/internal/device"
)

// NormalizeError maps known go-ble error strings onto the device error taxonomy.
// Message matching keeps the mapping stable across platform backends.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrTransportUnavailable, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrTransportUnavailable, err)
	case containsIgnoreCase(msg, "insufficient authentication"),
		containsIgnoreCase(msg, "insufficient encryption"),
		containsIgnoreCase(msg, "insufficient authorization"):
		return fmt.Errorf("%w: %v", device.ErrSecurity, err)
	case containsIgnoreCase(msg, "timeout"), containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	case containsIgnoreCase(msg, "busy"), containsIgnoreCase(msg, "prepare queue full"):
		return fmt.Errorf("%w: %v", device.ErrTransient, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", device.ErrNotInitialized, err)
	default:
		return err
	}
}

// statusOf converts a go-ble operation result into a completion status.
func statusOf(err error) device.Status {
	return device.StatusFromError(NormalizeError(err))
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
