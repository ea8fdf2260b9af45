package link

import (
	"bytes"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
)

// BusParser decodes one raw bus frame. Parsers are treated as pure consumers.
type BusParser interface {
	Parse(frame []byte)
}

// ParserFunc adapts a function to BusParser.
type ParserFunc func(frame []byte)

func (f ParserFunc) Parse(frame []byte) { f(frame) }

// FrameRecorder receives every raw LIN and CAN frame before dedup.
type FrameRecorder interface {
	Record(bus string, frame []byte)
}

const (
	BusLIN = "lin"
	BusCAN = "can"
)

// Router dispatches inbound frames by characteristic identity and, for the
// LIN family, by the message tag in the first byte.
type Router struct {
	profile  Profile
	frames   *FrameStore
	linTags  map[uint8]bool
	lin      BusParser
	can      BusParser
	recorder FrameRecorder
	publish  func(Event)
	logger   *logrus.Logger

	mu         sync.Mutex
	lastConfig *ConfigRecord
	hwRevision string
}

// NewRouter builds a router. Nil parsers and recorder are allowed.
func NewRouter(profile Profile, frames *FrameStore, publish func(Event), logger *logrus.Logger) *Router {
	if frames == nil {
		frames = NewFrameStore()
	}
	if publish == nil {
		publish = func(Event) {}
	}
	if logger == nil {
		logger = logrus.New()
	}
	tags := make(map[uint8]bool, len(profile.LINTags))
	for _, t := range profile.LINTags {
		tags[t] = true
	}
	return &Router{
		profile: profile,
		frames:  frames,
		linTags: tags,
		publish: publish,
		logger:  logger,
	}
}

// SetParsers installs the LIN and CAN decoders.
func (r *Router) SetParsers(lin, can BusParser) {
	r.lin = lin
	r.can = can
}

// SetRecorder installs the raw frame recorder.
func (r *Router) SetRecorder(rec FrameRecorder) {
	r.recorder = rec
}

// Route handles one inbound payload, solicited or not.
func (r *Router) Route(ref device.CharacteristicRef, data []byte) {
	switch {
	case matches(r.profile.LIN, ref):
		r.routeLIN(ref, data)
	case matches(r.profile.CAN, ref):
		r.routeCAN(ref, data)
	case matches(r.profile.Command, ref):
		r.routeCommand(ref, data)
	case matches(r.profile.HardwareRevision, ref):
		r.routeHardwareRevision(ref, data)
	default:
		r.publish(Event{Kind: EventDataAvailable, Ref: ref, Data: data})
	}
}

func (r *Router) routeLIN(ref device.CharacteristicRef, data []byte) {
	if len(data) == 0 {
		r.logger.WithField("ref", ref.String()).Debug("Dropping empty LIN frame")
		return
	}
	r.record(BusLIN, data)

	tag := data[0]
	if !r.linTags[tag] {
		r.logger.WithField("tag", tag).Debug("Dropping LIN frame with untracked tag")
		return
	}
	if !r.frames.Observe(tag, data) {
		return
	}

	if r.lin != nil {
		r.lin.Parse(bytes.Clone(data))
	}
	r.publish(Event{Kind: EventDataAvailable, Ref: ref, Data: data})
}

func (r *Router) routeCAN(ref device.CharacteristicRef, data []byte) {
	if len(data) == 0 {
		r.logger.WithField("ref", ref.String()).Debug("Dropping empty CAN frame")
		return
	}
	r.record(BusCAN, data)

	if r.can != nil {
		r.can.Parse(bytes.Clone(data))
	}
	r.publish(Event{Kind: EventDataAvailable, Ref: ref, Data: data})
}

func (r *Router) routeCommand(ref device.CharacteristicRef, data []byte) {
	if !HasConfigMagic(data) {
		r.logger.WithFields(logrus.Fields{
			"ref":   ref.String(),
			"bytes": len(data),
		}).Debug("Ignoring command response without config magic")
		return
	}
	rec, err := ParseConfigRecord(data)
	if err != nil {
		r.logger.WithField("error", err).Warn("Failed to parse config record")
		return
	}

	r.mu.Lock()
	changed := !rec.Equal(r.lastConfig)
	if changed {
		r.lastConfig = rec
	}
	r.mu.Unlock()

	if !changed {
		return
	}
	r.logger.WithField("config", rec.Raw).Info("Device configuration changed")
	r.publish(Event{Kind: EventConfigChanged, Ref: ref, Data: rec.Raw, Config: rec})
	r.publish(Event{Kind: EventDataAvailable, Ref: ref, Data: data})
}

func (r *Router) routeHardwareRevision(ref device.CharacteristicRef, data []byte) {
	if len(data) == 0 {
		return
	}
	rev := strings.TrimRight(string(data), "\x00 ")

	r.mu.Lock()
	r.hwRevision = rev
	r.mu.Unlock()

	r.logger.WithField("revision", rev).Debug("Hardware revision")
	r.publish(Event{Kind: EventHardwareRevision, Ref: ref, Data: data, Revision: rev})
}

func (r *Router) record(bus string, data []byte) {
	if r.recorder != nil {
		r.recorder.Record(bus, data)
	}
}

// IsCommand reports whether ref is the command characteristic.
func (r *Router) IsCommand(ref device.CharacteristicRef) bool {
	return matches(r.profile.Command, ref)
}

// LastConfig returns the last configuration record seen.
func (r *Router) LastConfig() (*ConfigRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastConfig, r.lastConfig != nil
}

// HardwareRevision returns the last reported hardware revision string.
func (r *Router) HardwareRevision() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hwRevision
}
