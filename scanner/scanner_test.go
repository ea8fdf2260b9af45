package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
	"github.com/srg/motolink/internal/testutils"
	"github.com/srg/motolink/scanner"
)

type ScannerTestSuite struct {
	suite.Suite
	logger   *logrus.Logger
	original func(context.Context, bool, func(scanner.Advertisement)) error
	adverts  []scanner.Advertisement
	scanErr  error
}

func (s *ScannerTestSuite) SetupSuite() {
	s.logger = testutils.NewTestHelper(s.T()).Logger
	s.original = scanner.AdvertisementSource
}

func (s *ScannerTestSuite) SetupTest() {
	s.scanErr = nil
	s.adverts = []scanner.Advertisement{
		testutils.NewAdvertisement("AA:BB:CC:DD:EE:FF", "Moto", -45, link.DefaultServiceUUID),
		testutils.NewAdvertisement("11:22:33:44:55:66", "Watch", -67, "180d"),
		testutils.NewAdvertisement("99:88:77:66:55:44", "", -80),
		testutils.NewAdvertisement("AA:BB:CC:DD:EE:FF", "Moto", -40, link.DefaultServiceUUID),
	}
	scanner.AdvertisementSource = func(ctx context.Context, _ bool, h func(scanner.Advertisement)) error {
		for _, a := range s.adverts {
			h(a)
		}
		if s.scanErr != nil {
			return s.scanErr
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func (s *ScannerTestSuite) TearDownSuite() {
	scanner.AdvertisementSource = s.original
}

func (s *ScannerTestSuite) scan(opts *scanner.ScanOptions) []scanner.Result {
	sc := scanner.NewScanner(link.DefaultServiceUUID, s.logger)
	opts.Duration = 20 * time.Millisecond
	results, err := sc.Scan(context.Background(), opts, nil)
	s.Require().NoError(err)
	return results
}

func (s *ScannerTestSuite) TestResultsSortedAndMerged() {
	// GOAL: Verify repeated advertisements merge per address and results are sorted by RSSI

	results := s.scan(&scanner.ScanOptions{})

	s.Require().Len(results, 3, "duplicate addresses MUST merge")
	s.Equal("AA:BB:CC:DD:EE:FF", results[0].Address)
	s.Equal(-40, results[0].RSSI, "latest RSSI MUST win")
	s.True(results[0].Telemetry)
	s.Equal([]string{device.NormalizeUUID(link.DefaultServiceUUID)}, results[0].Services)
	s.Equal("11:22:33:44:55:66", results[1].Address)
	s.False(results[1].Telemetry)
	s.Equal("99:88:77:66:55:44", results[2].Address)
}

func (s *ScannerTestSuite) TestTelemetryOnly() {
	results := s.scan(&scanner.ScanOptions{TelemetryOnly: true})

	s.Require().Len(results, 1)
	s.Equal("Moto", results[0].Name)
}

func (s *ScannerTestSuite) TestFilters() {
	s.Run("allow list", func() {
		results := s.scan(&scanner.ScanOptions{AllowList: []string{"11:22:33:44:55:66"}})
		s.Require().Len(results, 1)
		s.Equal("Watch", results[0].Name)
	})
	s.Run("block list", func() {
		results := s.scan(&scanner.ScanOptions{BlockList: []string{"aa:bb:cc:dd:ee:ff"}})
		s.Len(results, 2, "block list MUST match case-insensitively")
	})
	s.Run("service filter", func() {
		results := s.scan(&scanner.ScanOptions{ServiceUUIDs: []string{"0000180D-0000-1000-8000-00805F9B34FB"}})
		s.Require().Len(results, 1)
		s.Equal("11:22:33:44:55:66", results[0].Address)
	})
}

func (s *ScannerTestSuite) TestEvents() {
	sc := scanner.NewScanner(link.DefaultServiceUUID, s.logger)
	_, err := sc.Scan(context.Background(), &scanner.ScanOptions{Duration: 20 * time.Millisecond}, nil)
	s.Require().NoError(err)

	var types []scanner.DeviceEventType
	for i := 0; i < len(s.adverts); i++ {
		types = append(types, (<-sc.Events()).Type)
	}
	s.Equal([]scanner.DeviceEventType{scanner.EventNew, scanner.EventNew, scanner.EventNew, scanner.EventUpdated}, types)
}

func (s *ScannerTestSuite) TestScanFailure() {
	s.scanErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")

	sc := scanner.NewScanner(link.DefaultServiceUUID, s.logger)
	_, err := sc.Scan(context.Background(), &scanner.ScanOptions{Duration: time.Second}, nil)
	s.ErrorIs(err, device.ErrTransportUnavailable)
}

func (s *ScannerTestSuite) TestCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := scanner.NewScanner(link.DefaultServiceUUID, s.logger)
	_, err := sc.Scan(ctx, &scanner.ScanOptions{Duration: time.Second}, nil)
	s.ErrorIs(err, context.Canceled)
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
