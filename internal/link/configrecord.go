package link

import (
	"bytes"
	"errors"
	"fmt"
)

// ConfigMagic prefixes every configuration record sent on the command characteristic ("WRW").
var ConfigMagic = [3]byte{0x57, 0x52, 0x57}

var ErrInvalidConfig = errors.New("invalid config record")

// ConfigRecord is a configuration payload reported by the peripheral.
type ConfigRecord struct {
	Raw   []byte
	Magic [3]byte
	Body  []byte
}

// HasConfigMagic reports whether data starts with ConfigMagic.
func HasConfigMagic(data []byte) bool {
	return len(data) >= len(ConfigMagic) && bytes.Equal(data[:len(ConfigMagic)], ConfigMagic[:])
}

// ParseConfigRecord validates the magic prefix and splits the record.
func ParseConfigRecord(data []byte) (*ConfigRecord, error) {
	if len(data) < len(ConfigMagic) {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidConfig, len(data), len(ConfigMagic))
	}
	if !HasConfigMagic(data) {
		return nil, fmt.Errorf("%w: bad magic % x", ErrInvalidConfig, data[:len(ConfigMagic)])
	}
	raw := bytes.Clone(data)
	rec := &ConfigRecord{Raw: raw, Body: raw[len(ConfigMagic):]}
	copy(rec.Magic[:], raw)
	return rec, nil
}

// Byte returns the body byte at index i.
func (c *ConfigRecord) Byte(i int) (byte, bool) {
	if c == nil || i < 0 || i >= len(c.Body) {
		return 0, false
	}
	return c.Body[i], true
}

// Equal reports whether both records carry the same raw bytes.
func (c *ConfigRecord) Equal(other *ConfigRecord) bool {
	if c == nil || other == nil {
		return c == other
	}
	return bytes.Equal(c.Raw, other.Raw)
}
