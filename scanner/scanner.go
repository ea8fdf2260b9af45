package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
	goble "github.com/srg/motolink/internal/device/go-ble"
	"github.com/srg/motolink/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Advertisement is the part of a BLE advertisement the scanner reads.
type Advertisement interface {
	LocalName() string
	RSSI() int
	Connectable() bool
	Services() []blelib.UUID
	Addr() blelib.Addr
}

// AdvertisementSource runs a platform scan until ctx ends (can be overridden in tests)
var AdvertisementSource = func(ctx context.Context, allowDup bool, h func(Advertisement)) error {
	dev, err := goble.DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	return dev.Scan(ctx, allowDup, func(a blelib.Advertisement) { h(a) })
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device Result
}

// Result is what the scan learned about one advertiser.
type Result struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	Services    []string // normalized UUIDs
	Telemetry   bool     // advertises the telemetry service
	LastSeen    time.Time
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	TelemetryOnly   bool // keep only advertisers of the telemetry service
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner collects advertisements into a per-address result set.
type Scanner struct {
	telemetryService string
	devices          *hashmap.Map[string, *Result]
	events           *ringchan.RingChannel[DeviceEvent]
	logger           *logrus.Logger
	opts             *ScanOptions
}

// NewScanner creates a scanner that flags advertisers of telemetryService.
func NewScanner(telemetryService string, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		telemetryService: device.NormalizeUUID(telemetryService),
		events:           ringchan.New[DeviceEvent](100),
		logger:           logger,
	}
}

// Scan listens for advertisements for opts.Duration (or until ctx ends) and
// returns the results sorted by signal strength, strongest first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Result, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	s.devices = hashmap.New[string, *Result]()
	s.opts = opts

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	err := AdvertisementSource(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", goble.NormalizeError(err))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.results(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv Advertisement) {
	addr := strings.ToUpper(adv.Addr().String())

	res, existing := s.devices.Get(addr)
	if !existing {
		candidate := s.newResult(adv)
		if !s.shouldInclude(candidate) {
			return
		}
		res, existing = s.devices.GetOrInsert(addr, candidate)
	}
	if existing {
		res.RSSI = adv.RSSI()
		res.LastSeen = time.Now()
		if name := adv.LocalName(); name != "" {
			res.Name = name
		}
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":    res.Name,
			"address":   res.Address,
			"rssi":      res.RSSI,
			"telemetry": res.Telemetry,
		}).Info("Discovered new device")
	}

	ev := DeviceEvent{Type: EventNew, Device: *res}
	if existing {
		ev.Type = EventUpdated
	}
	s.events.Send(ev)
}

func (s *Scanner) newResult(adv Advertisement) *Result {
	res := &Result{
		Address:     strings.ToUpper(adv.Addr().String()),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}
	for _, u := range adv.Services() {
		n := device.NormalizeUUID(u.String())
		res.Services = append(res.Services, n)
		if n == s.telemetryService {
			res.Telemetry = true
		}
	}
	return res
}

// shouldInclude applies the telemetry, allow, block and service filters
func (s *Scanner) shouldInclude(res *Result) bool {
	opts := s.opts
	if opts.TelemetryOnly && !res.Telemetry {
		return false
	}
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(res.Address, blocked) {
			return false
		}
	}
	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(res.Address, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if len(opts.ServiceUUIDs) > 0 {
		for _, required := range device.NormalizeUUIDs(opts.ServiceUUIDs) {
			for _, svc := range res.Services {
				if svc == required {
					return true
				}
			}
		}
		return false
	}
	return true
}

func (s *Scanner) results() []Result {
	out := make([]Result, 0, s.devices.Len())
	s.devices.Range(func(_ string, r *Result) bool {
		out = append(out, *r)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
