package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	goble "github.com/srg/motolink/internal/device/go-ble"
)

// MockGATTSuite provides a reusable test suite with a mock go-ble peripheral.
//
// The suite swaps goble.Dial for each test so the transport talks to the mock
// client built from the configured profile.
//
//	type TransportSuite struct {
//	    testutils.MockGATTSuite
//	}
//
//	func (s *TransportSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockGATTSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockGATTSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDial func(ctx context.Context, address string) (goble.GATTClient, error)
	TestTimeout  time.Duration

	PeripheralBuilder *PeripheralBuilder
	Peripheral        *MockPeripheral
	DialErr           error
}

// SetupSuite is called once before all tests in the suite.
func (s *MockGATTSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.OriginalDial = goble.Dial

	s.T().Cleanup(func() {
		if s.OriginalDial != nil {
			goble.Dial = s.OriginalDial
		}
	})
}

// SetupTest builds the mock peripheral and installs the dialer.
func (s *MockGATTSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder()
	}
	s.Peripheral = s.PeripheralBuilder.Build()

	goble.Dial = func(ctx context.Context, address string) (goble.GATTClient, error) {
		if s.DialErr != nil {
			return nil, s.DialErr
		}
		return s.Peripheral.Client, nil
	}
}

// TearDownTest restores the dialer and resets the peripheral configuration.
func (s *MockGATTSuite) TearDownTest() {
	if s.OriginalDial != nil {
		goble.Dial = s.OriginalDial
	}
	s.PeripheralBuilder = nil
	s.Peripheral = nil
	s.DialErr = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockGATTSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}

// createDefaultPeripheralBuilder returns a telemetry unit with the LIN, CAN and
// command characteristics plus the device information hardware revision.
func createDefaultPeripheralBuilder() *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(`
	{
		"services": [
			{
				"uuid": "02997340-015f-11e5-a5a9-0002a5d5c51b",
				"characteristics": [
					{ "uuid": "00000003-007c-11e5-9ad8-0002a5d5c51b", "properties": "read,notify" },
					{ "uuid": "00000004-007c-11e5-9ad8-0002a5d5c51b", "properties": "notify" },
					{ "uuid": "00000005-007c-11e5-9ad8-0002a5d5c51b", "properties": "read,write,notify" }
				]
			},
			{
				"uuid": "180A",
				"characteristics": [
					{ "uuid": "2A27", "properties": "read", "value": [50, 46, 48] }
				]
			}
		]
	}`)
}
