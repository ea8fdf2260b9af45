package devicefactory

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
	goble "github.com/srg/motolink/internal/device/go-ble"
)

// Options selects timeouts and the BlueZ adapter for the platform transport.
type Options struct {
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	Adapter          string // BlueZ adapter used for bonding on Linux
}

// NewTransport creates the platform device.Transport.
// This is a variable so that it can be overridden in tests.
var NewTransport = func(opts Options, logger *logrus.Logger) device.Transport {
	return goble.NewTransport(goble.Options{
		ConnectTimeout:   opts.ConnectTimeout,
		OperationTimeout: opts.OperationTimeout,
		Bonder:           platformBonder(opts.Adapter, logger),
	}, logger)
}
