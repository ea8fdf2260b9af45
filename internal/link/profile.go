package link

import (
	"github.com/srg/motolink/internal/device"
)

// Default UUIDs of the telemetry unit.
const (
	DefaultServiceUUID       = "02997340-015f-11e5-a5a9-0002a5d5c51b"
	DefaultLINMessageUUID    = "00000003-007c-11e5-9ad8-0002a5d5c51b"
	DefaultCANMessageUUID    = "00000004-007c-11e5-9ad8-0002a5d5c51b"
	DefaultCommandUUID       = "00000005-007c-11e5-9ad8-0002a5d5c51b"
	DeviceInformationService = "180a"
	HardwareRevisionUUID     = "2a27"
)

// DefaultLINTags are the LIN message tags that are deduplicated and dispatched.
var DefaultLINTags = []uint8{0x00, 0x01, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c}

// Profile names the characteristics the router treats specially.
type Profile struct {
	LIN              device.CharacteristicRef
	CAN              device.CharacteristicRef
	Command          device.CharacteristicRef
	HardwareRevision device.CharacteristicRef
	LINTags          []uint8
}

func DefaultProfile() Profile {
	return Profile{
		LIN:              device.NewCharacteristicRef(DefaultServiceUUID, DefaultLINMessageUUID),
		CAN:              device.NewCharacteristicRef(DefaultServiceUUID, DefaultCANMessageUUID),
		Command:          device.NewCharacteristicRef(DefaultServiceUUID, DefaultCommandUUID),
		HardwareRevision: device.NewCharacteristicRef(DeviceInformationService, HardwareRevisionUUID),
		LINTags:          append([]uint8(nil), DefaultLINTags...),
	}
}

// Notifiable returns the characteristics a monitor session subscribes to.
func (p Profile) Notifiable() []device.CharacteristicRef {
	return []device.CharacteristicRef{p.LIN, p.CAN, p.Command}
}

// matches reports whether ref addresses the profile characteristic want.
// An empty service in want matches any service.
func matches(want, ref device.CharacteristicRef) bool {
	if want.IsZero() || want.UUID != ref.UUID {
		return false
	}
	return want.Service == "" || ref.Service == "" || want.Service == ref.Service
}
