//go:build !linux

package devicefactory

import (
	"github.com/sirupsen/logrus"

	goble "github.com/srg/motolink/internal/device/go-ble"
)

// CoreBluetooth pairs on demand by itself; other platforms have no bonder.
func platformBonder(string, *logrus.Logger) goble.Bonder {
	return nil
}
