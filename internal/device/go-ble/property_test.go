package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"

	"github.com/srg/motolink/internal/device"
)

func TestNewProperties(t *testing.T) {
	p := NewProperties(ble.CharRead | ble.CharWriteNR | ble.CharNotify)

	assert.True(t, p.CanRead())
	assert.True(t, p.SupportsWrite(device.WriteWithoutResponse))
	assert.False(t, p.SupportsWrite(device.WriteWithResponse))
	assert.True(t, p.CanNotify())
	assert.Equal(t, device.PropRead|device.PropWriteWithoutResponse|device.PropNotify, p)

	assert.Equal(t, device.Property(0), NewProperties(0))
}

func TestUseIndication(t *testing.T) {
	assert.True(t, useIndication(ble.CharIndicate))
	assert.False(t, useIndication(ble.CharNotify|ble.CharIndicate), "notify MUST be preferred when both are offered")
	assert.False(t, useIndication(ble.CharNotify))
}
