package testutils

import (
	"bytes"
	"context"
	"sync"

	"github.com/srg/motolink/internal/device"
)

// FakeOp is one operation a FakeHandle received.
type FakeOp struct {
	Kind    string // "discover", "read", "write", "notify"
	Ref     device.CharacteristicRef
	Data    []byte
	Mode    device.WriteMode
	Enabled bool
}

// FakeTransport is an in-memory device.Transport. Operations are recorded and
// complete only when the test fires the matching Complete* helper.
type FakeTransport struct {
	mu          sync.Mutex
	chars       []device.CharacteristicInfo
	handles     []*FakeHandle
	ConnectErr  error
	AutoConnect bool // report ConnConnected from inside Connect
	DropOnDial  bool // report ConnDisconnected from inside Connect
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{AutoConnect: true}
}

// WithCharacteristic adds a characteristic reported by discovery.
func (t *FakeTransport) WithCharacteristic(ref device.CharacteristicRef, props device.Property) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chars = append(t.chars, device.CharacteristicInfo{Ref: ref, Properties: props})
	return t
}

func (t *FakeTransport) Connect(_ context.Context, _ string, cb device.Callbacks) (device.Handle, error) {
	t.mu.Lock()
	if t.ConnectErr != nil {
		err := t.ConnectErr
		t.mu.Unlock()
		return nil, err
	}
	h := &FakeHandle{cb: cb, chars: append([]device.CharacteristicInfo(nil), t.chars...)}
	t.handles = append(t.handles, h)
	auto, drop := t.AutoConnect, t.DropOnDial
	t.mu.Unlock()

	if auto {
		cb.ConnectionStateChanged(device.ConnConnected)
	}
	if drop {
		cb.ConnectionStateChanged(device.ConnDisconnected)
	}
	return h, nil
}

// Handle returns the most recently created handle.
func (t *FakeTransport) Handle() *FakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

// Connects returns how many handles were created.
func (t *FakeTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// FakeHandle records operations and tracks how many are outstanding at once.
type FakeHandle struct {
	mu              sync.Mutex
	cb              device.Callbacks
	chars           []device.CharacteristicInfo
	ops             []FakeOp
	inFlight        int
	maxInFlight     int
	disconnects     int
	closes          int
	bondingRequests int

	// OpErr, when set, is returned by every GATT operation (request not issued).
	OpErr error
	// BondErr is returned by RequestBonding.
	BondErr error
}

func (h *FakeHandle) issue(op FakeOp) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OpErr != nil {
		return h.OpErr
	}
	h.ops = append(h.ops, op)
	h.inFlight++
	if h.inFlight > h.maxInFlight {
		h.maxInFlight = h.inFlight
	}
	return nil
}

func (h *FakeHandle) DiscoverCapabilities() error {
	return h.issue(FakeOp{Kind: "discover"})
}

func (h *FakeHandle) ReadCharacteristic(ref device.CharacteristicRef) error {
	return h.issue(FakeOp{Kind: "read", Ref: ref})
}

func (h *FakeHandle) WriteCharacteristic(ref device.CharacteristicRef, data []byte, mode device.WriteMode) error {
	return h.issue(FakeOp{Kind: "write", Ref: ref, Data: data, Mode: mode})
}

func (h *FakeHandle) SetCharacteristicNotify(ref device.CharacteristicRef, enabled bool) error {
	return h.issue(FakeOp{Kind: "notify", Ref: ref, Enabled: enabled})
}

func (h *FakeHandle) RequestBonding() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bondingRequests++
	return h.BondErr
}

func (h *FakeHandle) Characteristics() []device.CharacteristicInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]device.CharacteristicInfo(nil), h.chars...)
}

func (h *FakeHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	return nil
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

// Ops returns a copy of the recorded operations in issue order.
func (h *FakeHandle) Ops() []FakeOp {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FakeOp, len(h.ops))
	for i, op := range h.ops {
		op.Data = bytes.Clone(op.Data)
		out[i] = op
	}
	return out
}

// LastOp returns the most recent operation.
func (h *FakeHandle) LastOp() (FakeOp, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ops) == 0 {
		return FakeOp{}, false
	}
	return h.ops[len(h.ops)-1], true
}

// MaxInFlight returns the highest number of simultaneously outstanding operations.
func (h *FakeHandle) MaxInFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxInFlight
}

func (h *FakeHandle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func (h *FakeHandle) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

func (h *FakeHandle) BondingRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bondingRequests
}

func (h *FakeHandle) settle() device.Callbacks {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight > 0 {
		h.inFlight--
	}
	return h.cb
}

func (h *FakeHandle) CompleteDiscover(status device.Status) {
	h.settle().CapabilitiesDiscovered(status)
}

func (h *FakeHandle) CompleteRead(ref device.CharacteristicRef, data []byte, status device.Status) {
	h.settle().CharacteristicRead(ref, data, status)
}

func (h *FakeHandle) CompleteWrite(ref device.CharacteristicRef, data []byte, status device.Status) {
	h.settle().CharacteristicWritten(ref, data, status)
}

func (h *FakeHandle) CompleteNotify(ref device.CharacteristicRef, enabled bool, status device.Status) {
	h.settle().DescriptorWritten(ref, enabled, status)
}

// Notify delivers an unsolicited notification.
func (h *FakeHandle) Notify(ref device.CharacteristicRef, data []byte) {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	cb.CharacteristicChanged(ref, data)
}

// DropLink reports a transport-side disconnection.
func (h *FakeHandle) DropLink() {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	cb.ConnectionStateChanged(device.ConnDisconnected)
}

// ReportConnected reports the link up, for transports created with AutoConnect off.
func (h *FakeHandle) ReportConnected() {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	cb.ConnectionStateChanged(device.ConnConnected)
}
