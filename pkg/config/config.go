package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

// Config holds application configuration
type Config struct {
	LogLevel         string        `yaml:"log_level" default:"info"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"10s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"5s"`
	MaxRetries       int           `yaml:"max_retries" default:"2"`
	EventBuffer      int           `yaml:"event_buffer" default:"256"`
	FrameLog         string        `yaml:"frame_log"`              // empty disables frame logging
	Adapter          string        `yaml:"adapter" default:"hci0"` // BlueZ adapter used for bonding
	Device           DeviceConfig  `yaml:"device"`
	Profile          ProfileConfig `yaml:"profile"`
}

// DeviceConfig names the default peripheral.
type DeviceConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

// ProfileConfig holds the UUIDs of the characteristics the link treats specially.
type ProfileConfig struct {
	Service           string `yaml:"service" default:"02997340-015f-11e5-a5a9-0002a5d5c51b"`
	LIN               string `yaml:"lin" default:"00000003-007c-11e5-9ad8-0002a5d5c51b"`
	CAN               string `yaml:"can" default:"00000004-007c-11e5-9ad8-0002a5d5c51b"`
	Command           string `yaml:"command" default:"00000005-007c-11e5-9ad8-0002a5d5c51b"`
	DeviceInformation string `yaml:"device_information" default:"180a"`
	HardwareRevision  string `yaml:"hardware_revision" default:"2a27"`
	LINTags           []int  `yaml:"lin_tags"` // empty: link.DefaultLINTags
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and UUID syntax.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.ConnectTimeout < 0 || c.OperationTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer))
	}
	p := c.Profile
	if _, err := device.ValidateUUID(p.Service, p.LIN, p.CAN, p.Command, p.DeviceInformation, p.HardwareRevision); err != nil {
		errs = append(errs, fmt.Errorf("profile: %w", err))
	}
	for _, tag := range p.LINTags {
		if tag < 0 || tag > 0xff {
			errs = append(errs, fmt.Errorf("profile: LIN tag %d out of range", tag))
		}
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return lvl, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	lvl, _ := c.Level()
	logger.SetLevel(lvl)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// LinkProfile converts the profile block to a link.Profile.
func (c *Config) LinkProfile() link.Profile {
	p := c.Profile
	tags := append([]uint8(nil), link.DefaultLINTags...)
	if len(p.LINTags) > 0 {
		tags = tags[:0]
		for _, t := range p.LINTags {
			tags = append(tags, uint8(t))
		}
	}
	return link.Profile{
		LIN:              device.NewCharacteristicRef(p.Service, p.LIN),
		CAN:              device.NewCharacteristicRef(p.Service, p.CAN),
		Command:          device.NewCharacteristicRef(p.Service, p.Command),
		HardwareRevision: device.NewCharacteristicRef(p.DeviceInformation, p.HardwareRevision),
		LINTags:          tags,
	}
}
