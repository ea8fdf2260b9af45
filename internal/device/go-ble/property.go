package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/motolink/internal/device"
)

var propertyMap = []struct {
	ble ble.Property
	dev device.Property
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropSignedWrite},
	{ble.CharExtended, device.PropExtended},
}

// NewProperties converts ble.Property bit flags to device.Property.
func NewProperties(p ble.Property) device.Property {
	var out device.Property
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			out |= m.dev
		}
	}
	return out
}

// useIndication reports whether a subscription must use indications:
// only when the characteristic can indicate but not notify.
func useIndication(p ble.Property) bool {
	return p&ble.CharNotify == 0 && p&ble.CharIndicate != 0
}
