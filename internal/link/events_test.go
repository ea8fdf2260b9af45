package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestEventBus_KindFilter(t *testing.T) {
	bus := NewEventBus(8, nil)
	all := bus.Subscribe()
	data := bus.Subscribe(EventDataAvailable)

	bus.Publish(Event{Kind: EventConnected})
	bus.Publish(Event{Kind: EventDataAvailable, Data: []byte{1}})

	assert.Len(t, drain(all), 2, "subscriber without kinds MUST receive everything")

	got := drain(data)
	require.Len(t, got, 1)
	assert.Equal(t, EventDataAvailable, got[0].Kind)
	assert.False(t, got[0].Time.IsZero(), "publish MUST stamp the event time")
}

func TestEventBus_DataIsolation(t *testing.T) {
	bus := NewEventBus(8, nil)
	a := bus.Subscribe()
	b := bus.Subscribe()

	payload := []byte{1, 2, 3}
	bus.Publish(Event{Kind: EventDataAvailable, Data: payload})
	payload[0] = 9

	evA := drain(a)[0]
	evB := drain(b)[0]
	evA.Data[1] = 7

	assert.Equal(t, []byte{1, 2, 3}, evB.Data, "each subscriber MUST own its copy of the payload")
}

func TestEventBus_OverflowDropsOldest(t *testing.T) {
	// GOAL: Verify a slow subscriber never blocks the publisher and keeps the newest events

	bus := NewEventBus(2, nil)
	sub := bus.Subscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: EventDataAvailable, Data: []byte{byte(i)}})
	}

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{3}, got[0].Data)
	assert.Equal(t, []byte{4}, got[1].Data)
	assert.Equal(t, int64(3), sub.Dropped())
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(4, nil)
	sub := bus.Subscribe()
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "closing the bus MUST close subscriptions")

	late := bus.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing to a closed bus MUST yield a closed channel")

	bus.Publish(Event{Kind: EventConnected})
	sub.Close()
}

func TestSubscription_Close(t *testing.T) {
	bus := NewEventBus(4, nil)
	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	bus.Publish(Event{Kind: EventConnected})
	_, ok := <-sub.C()
	assert.False(t, ok)
}
