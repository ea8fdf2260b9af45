package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/link"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// WaitForEvent returns the next event of the given kind from sub, failing the test on timeout.
func (h *TestHelper) WaitForEvent(sub *link.Subscription, kind link.EventKind, timeout time.Duration) link.Event {
	h.T.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				h.T.Fatalf("event subscription closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			h.T.Fatalf("timed out after %s waiting for %s", timeout, kind)
		}
	}
}

// DrainEvents returns every event currently buffered in sub without blocking.
func DrainEvents(sub *link.Subscription) []link.Event {
	var out []link.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// EventKinds extracts the kinds of events, in order.
func EventKinds(events []link.Event) []link.EventKind {
	out := make([]link.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
