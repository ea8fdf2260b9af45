package main

import (
	"errors"
	"fmt"

	"github.com/srg/motolink/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was running.
	// It differs from device.ErrNotConnected, which means the link was never up.
	ErrConnectionLost = errors.New("connection lost")

	ErrDiscoveryFailed = errors.New("service discovery failed")
)

// FormatUserError turns an error chain into a one-line message with a hint for
// the failures users can act on.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrTransportUnavailable):
		return fmt.Sprintf("%v (is Bluetooth enabled and the adapter available?)", err)
	case errors.Is(err, device.ErrSecurity):
		return fmt.Sprintf("%v (the device requires pairing; bonding was requested, try again)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the device powered and in range?)", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v (the device disconnected)", err)
	default:
		return err.Error()
	}
}
