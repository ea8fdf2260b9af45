package goble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/motolink/internal/device"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		target error
		status device.Status
	}{
		{"bluetooth off (darwin)", "central manager has invalid state: have=4 want=5: is Bluetooth turned on?", device.ErrTransportUnavailable, device.StatusFailure},
		{"bluetooth off", "Bluetooth is turned off", device.ErrTransportUnavailable, device.StatusFailure},
		{"authentication", "ATT error: insufficient authentication", device.ErrSecurity, device.StatusInsufficientAuthentication},
		{"encryption", "ATT error: Insufficient Encryption", device.ErrSecurity, device.StatusInsufficientEncryption},
		{"timeout", "operation timed out", device.ErrTimeout, device.StatusTransient},
		{"busy", "device busy", device.ErrTransient, device.StatusTransient},
		{"disconnected", "peripheral disconnected", device.ErrNotConnected, device.StatusFailure},
		{"already connected", "device already connected", device.ErrAlreadyConnected, device.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := errors.New(tt.msg)
			err := NormalizeError(src)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.msg, "normalized error MUST keep the original message")
			assert.Equal(t, tt.status, statusOf(src))
		})
	}
}

func TestNormalizeError_Passthrough(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))
	assert.Equal(t, device.StatusSuccess, statusOf(nil))

	src := errors.New("attribute not found")
	assert.Same(t, src, NormalizeError(src), "unknown errors MUST be returned unchanged")
	assert.Equal(t, device.StatusFailure, statusOf(src))
}
