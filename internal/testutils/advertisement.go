package testutils

import (
	blelib "github.com/go-ble/ble"
)

// Advertisement is a static advertisement for scanner tests.
type Advertisement struct {
	addr        string
	name        string
	rssi        int
	services    []blelib.UUID
	connectable bool
}

// NewAdvertisement builds a connectable advertisement; services are UUID strings.
func NewAdvertisement(addr, name string, rssi int, services ...string) *Advertisement {
	a := &Advertisement{addr: addr, name: name, rssi: rssi, connectable: true}
	for _, s := range services {
		a.services = append(a.services, blelib.MustParse(s))
	}
	return a
}

func (a *Advertisement) LocalName() string { return a.name }

func (a *Advertisement) RSSI() int { return a.rssi }

func (a *Advertisement) Connectable() bool { return a.connectable }

func (a *Advertisement) Services() []blelib.UUID { return a.services }

func (a *Advertisement) Addr() blelib.Addr { return blelib.NewAddr(a.addr) }
