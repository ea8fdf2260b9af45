package link

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/motolink/internal/device"
)

// stubHandle satisfies device.Handle; the queue only passes it to the dispatcher.
type stubHandle struct{}

func (stubHandle) Disconnect() error { return nil }

func (stubHandle) Close() error { return nil }

func (stubHandle) DiscoverCapabilities() error { return nil }

func (stubHandle) ReadCharacteristic(device.CharacteristicRef) error { return nil }

func (stubHandle) WriteCharacteristic(device.CharacteristicRef, []byte, device.WriteMode) error {
	return nil
}

func (stubHandle) SetCharacteristicNotify(device.CharacteristicRef, bool) error { return nil }

func (stubHandle) RequestBonding() error { return nil }

func (stubHandle) Characteristics() []device.CharacteristicInfo { return nil }

// recordingDispatcher records every dispatched command.
type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []Command
	errs map[device.CharacteristicRef]error
}

func (d *recordingDispatcher) dispatch(_ device.Handle, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, cmd)
	return d.errs[cmd.Ref]
}

func (d *recordingDispatcher) dispatched() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.cmds...)
}

func newTestQueue(t *testing.T) (*CommandQueue, *recordingDispatcher) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	d := &recordingDispatcher{errs: map[device.CharacteristicRef]error{}}
	q := NewCommandQueue(d.dispatch, DefaultMaxRetries, logger)
	q.Attach(stubHandle{})
	return q, d
}

var (
	refA = device.NewCharacteristicRef("180a", "2a27")
	refB = device.NewCharacteristicRef("180a", "2a28")
	refC = device.NewCharacteristicRef("180a", "2a29")
)

func TestCommandQueue_SingleFlightFIFO(t *testing.T) {
	// GOAL: Verify commands reach the transport in enqueue order, one at a time
	//
	// TEST SCENARIO: Enqueue three reads while idle → only the first is dispatched; each completion releases the next

	q, d := newTestQueue(t)

	require.True(t, q.Enqueue(Command{Op: OpRead, Ref: refA}))
	require.True(t, q.Enqueue(Command{Op: OpRead, Ref: refB}))
	require.True(t, q.Enqueue(Command{Op: OpRead, Ref: refC}))

	require.Len(t, d.dispatched(), 1, "MUST dispatch only the head while busy")
	assert.Equal(t, refA, d.dispatched()[0].Ref)
	assert.True(t, q.Busy())
	assert.Equal(t, 3, q.Len())

	require.True(t, q.Completed(OpRead, refA))
	require.Len(t, d.dispatched(), 2)
	assert.Equal(t, refB, d.dispatched()[1].Ref)

	require.True(t, q.Completed(OpRead, refB))
	require.True(t, q.Completed(OpRead, refC))

	got := d.dispatched()
	require.Len(t, got, 3)
	assert.Equal(t, []device.CharacteristicRef{refA, refB, refC}, []device.CharacteristicRef{got[0].Ref, got[1].Ref, got[2].Ref})
	assert.False(t, q.Busy(), "queue MUST be idle once drained")
	assert.Equal(t, 0, q.Len())
}

func TestCommandQueue_RetryKeepsHead(t *testing.T) {
	// GOAL: Verify a retry below the budget re-dispatches the same head with an incremented attempt count

	q, d := newTestQueue(t)
	q.Enqueue(Command{Op: OpRead, Ref: refA})
	q.Enqueue(Command{Op: OpRead, Ref: refB})

	require.True(t, q.Retry(OpRead, refA))

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, refA, head.Ref, "head MUST stay in place after one retry")
	assert.Equal(t, 2, head.Attempts, "attempt count MUST be incremented")
	assert.True(t, q.Retrying())

	got := d.dispatched()
	require.Len(t, got, 2)
	assert.Equal(t, refA, got[1].Ref, "MUST re-dispatch the same command")
}

func TestCommandQueue_RetryExhaustionAbandonsHead(t *testing.T) {
	// GOAL: Verify the head is dropped at exactly maxRetries retry calls and the next command starts fresh
	//
	// TEST SCENARIO: Read(A), Read(B) enqueued; Read(A) fails transiently twice → A abandoned, B dispatched with attempt 1

	q, d := newTestQueue(t)
	q.Enqueue(Command{Op: OpRead, Ref: refA})
	q.Enqueue(Command{Op: OpRead, Ref: refB})

	q.Retry(OpRead, refA)
	q.Retry(OpRead, refA)

	got := d.dispatched()
	require.Len(t, got, 3)
	assert.Equal(t, []device.CharacteristicRef{refA, refA, refB}, []device.CharacteristicRef{got[0].Ref, got[1].Ref, got[2].Ref})

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, refB, head.Ref, "next command MUST become head")
	assert.Equal(t, 1, head.Attempts, "new head MUST start its own retry budget")
	assert.False(t, q.Retrying())
	assert.Equal(t, 1, q.Len())
}

func TestCommandQueue_AbandonHandler(t *testing.T) {
	// GOAL: Verify the abandon handler sees every command dropped without a completion
	//
	// TEST SCENARIO: A exhausts its retries, B is not issued, C completes → handler sees A then B only

	q, d := newTestQueue(t)
	var abandoned []Command
	q.SetAbandonHandler(func(cmd Command) { abandoned = append(abandoned, cmd) })
	d.errs[refB] = errors.New("busy")

	require.True(t, q.Enqueue(Command{Op: OpSetNotify, Ref: refA}))
	require.True(t, q.Enqueue(Command{Op: OpRead, Ref: refB}))
	require.True(t, q.Enqueue(Command{Op: OpRead, Ref: refC}))

	q.Retry(OpSetNotify, refA)
	q.Retry(OpSetNotify, refA)
	q.Completed(OpRead, refC)

	require.Len(t, abandoned, 2)
	assert.Equal(t, refA, abandoned[0].Ref)
	assert.Equal(t, DefaultMaxRetries, abandoned[0].Attempts)
	assert.Equal(t, refB, abandoned[1].Ref)
	assert.Zero(t, q.Len())
	assert.Len(t, d.dispatched(), 4)
}

func TestCommandQueue_HasPending(t *testing.T) {
	q, _ := newTestQueue(t)
	require.True(t, q.Enqueue(Command{Op: OpRead, Ref: refA}))
	require.True(t, q.Enqueue(Command{Op: OpSetNotify, Ref: refB}))

	isNotify := func(ref device.CharacteristicRef) func(Command) bool {
		return func(c Command) bool { return c.Op == OpSetNotify && c.Ref == ref }
	}
	assert.True(t, q.HasPending(isNotify(refB)), "queued command MUST be visible")
	assert.False(t, q.HasPending(isNotify(refA)))

	q.Completed(OpRead, refA)
	q.Completed(OpSetNotify, refB)
	assert.False(t, q.HasPending(isNotify(refB)), "completed command MUST NOT be pending")
}

func TestCommandQueue_DetachDrains(t *testing.T) {
	// GOAL: Verify losing the handle drops every pending command and resets busy

	q, d := newTestQueue(t)
	q.Enqueue(Command{Op: OpRead, Ref: refA})
	q.Enqueue(Command{Op: OpRead, Ref: refB})

	assert.Equal(t, 2, q.Detach())
	assert.False(t, q.Busy())
	assert.Equal(t, 0, q.Len())

	// A stale completion from the old link is ignored.
	assert.False(t, q.Completed(OpRead, refA))

	q.Attach(stubHandle{})
	q.Enqueue(Command{Op: OpRead, Ref: refC})

	got := d.dispatched()
	require.Len(t, got, 2)
	assert.Equal(t, refC, got[1].Ref, "no stale command MUST execute after reattach")
}

func TestCommandQueue_NoHandleClearsQueue(t *testing.T) {
	d := &recordingDispatcher{}
	q := NewCommandQueue(d.dispatch, DefaultMaxRetries, nil)

	assert.True(t, q.Enqueue(Command{Op: OpRead, Ref: refA}), "enqueue MUST be accepted while the queue is open")
	assert.Equal(t, 0, q.Len(), "advance without a handle MUST clear the queue")
	assert.False(t, q.Busy())
	assert.Empty(t, d.dispatched())
}

func TestCommandQueue_NotIssuedCompletesImmediately(t *testing.T) {
	// GOAL: Verify a command the transport refused to issue does not stall the queue

	q, d := newTestQueue(t)
	d.errs[refA] = errors.New("not issued")

	q.Enqueue(Command{Op: OpRead, Ref: refA})
	q.Enqueue(Command{Op: OpRead, Ref: refB})

	got := d.dispatched()
	require.Len(t, got, 2)
	assert.Equal(t, refB, got[1].Ref)
	head, _ := q.Head()
	assert.Equal(t, refB, head.Ref)
	assert.True(t, q.Busy())
}

func TestCommandQueue_MismatchedCompletionIgnored(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(Command{Op: OpRead, Ref: refA})

	assert.False(t, q.Completed(OpWrite, refA), "MUST ignore completion of another op")
	assert.False(t, q.Completed(OpRead, refB), "MUST ignore completion of another characteristic")
	assert.False(t, q.Retry(OpRead, refB))
	assert.Equal(t, 1, q.Len())
}

func TestCommandQueue_CloseRejects(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Close()
	assert.False(t, q.Enqueue(Command{Op: OpRead, Ref: refA}), "closed queue MUST reject commands")
}

func TestCommandQueue_PayloadCopied(t *testing.T) {
	q, d := newTestQueue(t)
	payload := []byte{1, 2, 3}

	q.Enqueue(Command{Op: OpWrite, Ref: refA, Payload: payload})
	payload[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, d.dispatched()[0].Payload, "queued payload MUST NOT alias the caller's slice")
}

func TestCommandQueue_ConcurrentProducers(t *testing.T) {
	q, d := newTestQueue(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(Command{Op: OpRead, Ref: refA})
		}()
	}
	wg.Wait()

	assert.Len(t, d.dispatched(), 1, "MUST keep a single command in flight under concurrent enqueue")
	for q.Completed(OpRead, refA) {
	}
	assert.Len(t, d.dispatched(), 8)
	assert.Equal(t, 0, q.Len())
}
