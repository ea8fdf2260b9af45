package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/motolink/internal/testutils/mocks"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfileConfig represents the complete peripheral profile for mocking
type PeripheralProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds a mocked GATT client with full service/characteristic support
type PeripheralBuilder struct {
	profile PeripheralProfileConfig
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{profile: PeripheralProfileConfig{Services: []ServiceConfig{}}}
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// ParseProperties converts a comma-separated property list to ble.Property flags.
// Accepted names: read, write, write-no-response, notify, indicate, signed.
func ParseProperties(props string) blelib.Property {
	if strings.TrimSpace(props) == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
	var p blelib.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "read":
			p |= blelib.CharRead
		case "write":
			p |= blelib.CharWrite
		case "write-no-response", "writenr":
			p |= blelib.CharWriteNR
		case "notify":
			p |= blelib.CharNotify
		case "indicate":
			p |= blelib.CharIndicate
		case "signed":
			p |= blelib.CharSignedWrite
		case "broadcast":
			p |= blelib.CharBroadcast
		}
	}
	return p
}

// MockPeripheral is a built mock client together with its profile.
type MockPeripheral struct {
	Client  *mocks.MockGATTClient
	Profile *blelib.Profile
}

// Characteristic returns the profile characteristic with the given UUID.
func (p *MockPeripheral) Characteristic(uuid string) *blelib.Characteristic {
	want := blelib.MustParse(uuid)
	for _, svc := range p.Profile.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(want) {
				return c
			}
		}
	}
	panic(fmt.Sprintf("characteristic %s not in mock profile", uuid))
}

// Build creates a mocked GATT client with the configured profile.
// Reads return the configured value; writes, subscribes and unsubscribes succeed.
func (b *PeripheralBuilder) Build() *MockPeripheral {
	client := mocks.NewMockGATTClient()

	var services []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: ParseProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		services = append(services, svc)
	}
	profile := &blelib.Profile{Services: services}

	client.On("DiscoverProfile", true).Return(profile, nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range services {
		for _, c := range svc.Characteristics {
			client.On("Subscribe", c, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", c, mock.Anything).Return(nil).Maybe()
			client.On("WriteCharacteristic", c, mock.Anything, mock.Anything).Return(nil).Maybe()
			if c.Property&blelib.CharRead != 0 {
				client.On("ReadCharacteristic", c).Return(c.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", c).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
		}
	}

	return &MockPeripheral{Client: client, Profile: profile}
}

// GetServices returns the configured services
func (b *PeripheralBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

// OverrideRead replaces the read expectation of the characteristic with the given UUID.
func (p *MockPeripheral) OverrideRead(uuid string, value []byte, err error) {
	c := p.Characteristic(uuid)
	for _, call := range append([]*mock.Call(nil), p.Client.ExpectedCalls...) {
		if call.Method == "ReadCharacteristic" && len(call.Arguments) == 1 && call.Arguments[0] == c {
			call.Unset()
		}
	}
	p.Client.On("ReadCharacteristic", c).Return(value, err)
}
