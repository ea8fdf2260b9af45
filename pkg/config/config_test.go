package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motolink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	assert.Equal(t, link.DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, link.DefaultEventBuffer, cfg.EventBuffer)
	assert.Equal(t, "hci0", cfg.Adapter)
	assert.Empty(t, cfg.FrameLog)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfig_ProfileMatchesLinkDefaults(t *testing.T) {
	assert.Equal(t, link.DefaultProfile(), DefaultConfig().LinkProfile(),
		"default config MUST describe the default telemetry unit")
}

func TestLoad(t *testing.T) {
	// GOAL: Verify file values override defaults and omitted keys keep their defaults

	path := writeConfig(t, `
log_level: debug
operation_timeout: 2s
max_retries: 4
frame_log: /tmp/frames.log
device:
  address: AA:BB:CC:DD:EE:FF
  name: Dash
profile:
  command: "00000099-007c-11e5-9ad8-0002a5d5c51b"
  lin_tags: [0, 1, 5]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "omitted keys MUST keep defaults")
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, "/tmp/frames.log", cfg.FrameLog)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Address)
	assert.Equal(t, "Dash", cfg.Device.Name)

	p := cfg.LinkProfile()
	assert.Equal(t, device.NewCharacteristicRef(link.DefaultServiceUUID, "00000099-007c-11e5-9ad8-0002a5d5c51b"), p.Command)
	assert.Equal(t, device.NewCharacteristicRef(link.DefaultServiceUUID, link.DefaultLINMessageUUID), p.LIN)
	assert.Equal(t, []uint8{0, 1, 5}, p.LINTags)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"malformed yaml", "log_level: [", "failed to parse"},
		{"bad log level", "log_level: loud", "invalid log level"},
		{"negative retries", "max_retries: -1", "max_retries"},
		{"zero buffer", "event_buffer: 0", "event_buffer"},
		{"bad uuid", "profile:\n  lin: xyz", "profile"},
		{"tag out of range", "profile:\n  lin_tags: [256]", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on an invalid level",
			logLevel: "loud",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
