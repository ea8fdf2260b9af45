//go:build linux

package devicefactory

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/bluez"
	goble "github.com/srg/motolink/internal/device/go-ble"
)

func platformBonder(adapter string, logger *logrus.Logger) goble.Bonder {
	return bluez.NewBonder(adapter, logger)
}
