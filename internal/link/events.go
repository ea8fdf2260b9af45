package link

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/ringchan"
)

// DefaultEventBuffer is the per-subscriber buffer before the oldest events are dropped.
const DefaultEventBuffer = 256

// EventKind identifies a lifecycle or data event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnecting
	EventDisconnected
	EventDisconnecting
	EventServicesDiscovered
	EventServiceDiscoveryFailed
	EventDataAvailable
	EventConfigChanged
	EventWriteSucceeded
	EventWriteFailed
	EventHardwareRevision
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnecting:
		return "connecting"
	case EventDisconnected:
		return "disconnected"
	case EventDisconnecting:
		return "disconnecting"
	case EventServicesDiscovered:
		return "services_discovered"
	case EventServiceDiscoveryFailed:
		return "service_discovery_failed"
	case EventDataAvailable:
		return "data_available"
	case EventConfigChanged:
		return "config_changed"
	case EventWriteSucceeded:
		return "write_succeeded"
	case EventWriteFailed:
		return "write_failed"
	case EventHardwareRevision:
		return "hardware_revision"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is what the link announces to the application layer.
type Event struct {
	Kind     EventKind
	Ref      device.CharacteristicRef
	Data     []byte
	Config   *ConfigRecord
	Revision string
	Err      error
	Time     time.Time
}

func (e Event) String() string {
	switch e.Kind {
	case EventDataAvailable, EventWriteSucceeded:
		return fmt.Sprintf("%s %s % x", e.Kind, e.Ref, e.Data)
	case EventWriteFailed, EventServiceDiscoveryFailed:
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %v", e.Kind, e.Ref, e.Err)
		}
		return fmt.Sprintf("%s %s", e.Kind, e.Ref)
	case EventConfigChanged:
		return fmt.Sprintf("%s % x", e.Kind, e.Data)
	case EventHardwareRevision:
		return fmt.Sprintf("%s %q", e.Kind, e.Revision)
	default:
		return e.Kind.String()
	}
}

// EventBus fans events out to subscribers. Publishing never blocks: a slow
// subscriber loses its oldest buffered events.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	logger *logrus.Logger
}

func NewEventBus(buffer int, logger *logrus.Logger) *EventBus {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &EventBus{subs: make(map[*Subscription]struct{}), buffer: buffer, logger: logger}
}

// Subscription receives the events of the kinds it asked for (all kinds when none given).
type Subscription struct {
	bus   *EventBus
	kinds map[EventKind]bool
	ring  *ringchan.RingChannel[Event]
	once  sync.Once
}

// Subscribe registers a new subscriber. On a closed bus the returned
// subscription's channel is already closed.
func (b *EventBus) Subscribe(kinds ...EventKind) *Subscription {
	s := &Subscription{bus: b, ring: ringchan.New[Event](b.buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.ring.Close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every interested subscriber.
func (b *EventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.kinds != nil && !s.kinds[ev.Kind] {
			continue
		}
		e := ev
		e.Data = bytes.Clone(ev.Data)
		if s.ring.Send(e) {
			b.logger.WithField("event", ev.Kind.String()).Debug("Subscriber buffer full, dropped oldest event")
		}
	}
}

// Close closes every subscription. Later publishes are discarded.
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.ring.Close()
	}
}

// C returns the event channel. It is closed when the subscription or bus closes.
func (s *Subscription) C() <-chan Event {
	return s.ring.C()
}

// Dropped returns how many events this subscriber lost to overflow.
func (s *Subscription) Dropped() int64 {
	return s.ring.GetMetrics().Overwritten
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		s.ring.Close()
	})
}
