// Package bledb names the GATT services and characteristics a telemetry unit
// exposes: the Bluetooth SIG assigned numbers it uses plus the unit's own
// 128-bit UUIDs.
package bledb

import "github.com/srg/motolink/internal/device"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",

	// telemetry unit
	"02997340015f11e5a5a90002a5d5c51b": "Telemetry",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",

	// telemetry unit
	"00000003007c11e59ad80002a5d5c51b": "LIN Message",
	"00000004007c11e59ad80002a5d5c51b": "CAN Message",
	"00000005007c11e59ad80002a5d5c51b": "Command",
}

// NormalizeUUID converts any accepted UUID spelling to the lookup key.
func NormalizeUUID(uuid string) string {
	return device.NormalizeUUID(trimBraces(uuid))
}

func trimBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}
	return s
}

// LookupService returns the service name, or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the characteristic name, or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
