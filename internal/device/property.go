package device

import "strings"

// Property is the GATT characteristic property bitmask. Bit values match the
// properties field of the characteristic declaration.
type Property uint8

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
	PropSignedWrite          Property = 0x40
	PropExtended             Property = 0x80
)

var propertyNames = []struct {
	prop Property
	name string
}{
	{PropBroadcast, "Broadcast"},
	{PropRead, "Read"},
	{PropWriteWithoutResponse, "WriteWithoutResponse"},
	{PropWrite, "Write"},
	{PropNotify, "Notify"},
	{PropIndicate, "Indicate"},
	{PropSignedWrite, "AuthenticatedSignedWrites"},
	{PropExtended, "ExtendedProperties"},
}

// Has reports whether all bits of q are set.
func (p Property) Has(q Property) bool {
	return q != 0 && p&q == q
}

// CanRead reports whether the characteristic is readable.
func (p Property) CanRead() bool {
	return p.Has(PropRead)
}

// CanNotify reports whether notifications or indications can be enabled.
func (p Property) CanNotify() bool {
	return p.Has(PropNotify) || p.Has(PropIndicate)
}

// SupportsWrite reports whether the characteristic accepts writes in the given mode.
func (p Property) SupportsWrite(mode WriteMode) bool {
	switch mode {
	case WriteWithResponse:
		return p.Has(PropWrite)
	case WriteWithoutResponse:
		return p.Has(PropWriteWithoutResponse)
	case WriteSigned:
		return p.Has(PropSignedWrite)
	default:
		return false
	}
}

// CanWrite reports whether the characteristic accepts writes in any mode.
func (p Property) CanWrite() bool {
	return p.Has(PropWrite) || p.Has(PropWriteWithoutResponse) || p.Has(PropSignedWrite)
}

func (p Property) String() string {
	if p == 0 {
		return "None"
	}
	parts := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p.Has(pn.prop) {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, "|")
}
