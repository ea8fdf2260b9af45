package link

import (
	"time"

	"github.com/srg/motolink/internal/device"
)

// PeerIdentity names the peripheral of one connection attempt.
type PeerIdentity struct {
	Address     string
	DisplayName string
}

func (p PeerIdentity) String() string {
	if p.DisplayName == "" || p.DisplayName == p.Address {
		return p.Address
	}
	return p.DisplayName + " (" + p.Address + ")"
}

// LinkSession is the state of one connection attempt, from Connect until
// disconnect or link loss. Callbacks carrying a stale session are ignored.
// Fields are guarded by Manager.mu.
type LinkSession struct {
	Peer      PeerIdentity
	StartedAt time.Time

	handle device.Handle
	caps   map[device.CharacteristicRef]device.Property

	// transport reports that arrived before Connect returned the handle
	earlyConnected bool
	earlyLost      bool
}

func newLinkSession(peer PeerIdentity) *LinkSession {
	return &LinkSession{Peer: peer, StartedAt: time.Now()}
}

// resolve finds the discovered characteristic addressed by ref. A ref without a
// service matches any characteristic with that UUID.
func (s *LinkSession) resolve(ref device.CharacteristicRef) (device.CharacteristicRef, device.Property, error) {
	if s.caps == nil {
		return ref, 0, &device.ConnectionError{State: device.NotInitialized, Msg: "capabilities not discovered"}
	}
	if p, ok := s.caps[ref]; ok {
		return ref, p, nil
	}
	if ref.Service == "" {
		for r, p := range s.caps {
			if r.UUID == ref.UUID {
				return r, p, nil
			}
		}
	}
	uuids := []string{ref.UUID}
	if ref.Service != "" {
		uuids = []string{ref.Service, ref.UUID}
	}
	return ref, 0, &device.NotFoundError{Resource: "characteristic", UUIDs: uuids}
}
