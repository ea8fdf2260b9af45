package mocks

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockGATTClient is a testify mock of the go-ble client subset used by the transport.
type MockGATTClient struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[*ble.Characteristic]ble.NotificationHandler
	disconnected chan struct{}
	closeOnce    sync.Once
}

func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{
		handlers:     make(map[*ble.Characteristic]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockGATTClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[c] = h
	m.mu.Unlock()
	return nil
}

func (m *MockGATTClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.handlers, c)
	m.mu.Unlock()
	return nil
}

// CancelConnection closes the Disconnected channel, as the platform stacks do.
func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	m.SimulateDisconnect()
	return args.Error(0)
}

func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// SimulateDisconnect signals a platform-side disconnection.
func (m *MockGATTClient) SimulateDisconnect() {
	m.closeOnce.Do(func() { close(m.disconnected) })
}

// Notify delivers data to the handler subscribed on c. Returns false if none is.
func (m *MockGATTClient) Notify(c *ble.Characteristic, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[c]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}
