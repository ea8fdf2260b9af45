package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: if the buffer is full, the oldest element is discarded
// and counted as overwritten. Consumers read from C() like a normal channel.
//
//	rc := ringchan.New[link.Event](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(ev)
//	}
//	for v := range rc.C() {
//	    ...
//	}
//
// Only the last 3 values are delivered in the example above.
type RingChannel[T any] struct {
	mu      sync.Mutex // serializes producers and Close
	ch      chan T
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest when full.
// Returns true if an element was dropped. Sending on a closed ring is a no-op.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.metrics.addError()
		return false
	}

	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.metrics.addOverwritten(1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	rc.metrics.addWritten(1)
	return dropped
}

// TrySend attempts to insert without discarding anything.
// Returns false if the buffer is full or closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		rc.metrics.addWritten(1)
		return true
	default:
		return false
	}
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addProcessed(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// GetMetrics returns a snapshot of current metrics values.
//
// Processed only counts TryReceive; reads via C() are not tracked.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&rc.metrics.Errors),
	}
}

// Metrics provides lock-free counters for RingChannel.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
	Errors      int64 // sends after Close
}

func (m *Metrics) addProcessed(n int) {
	atomic.AddInt64(&m.Processed, int64(n))
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addOverwritten(n int) {
	atomic.AddInt64(&m.Overwritten, int64(n))
}

func (m *Metrics) addError() {
	atomic.AddInt64(&m.Errors, 1)
}
