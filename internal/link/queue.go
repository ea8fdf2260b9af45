package link

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
)

// DefaultMaxRetries is the per-command retry budget.
const DefaultMaxRetries = 2

// Op is the GATT operation a queued command performs.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpSetNotify
	OpDiscover
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSetNotify:
		return "set_notify"
	case OpDiscover:
		return "discover"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Command is one pending operation owned by the CommandQueue until completed or abandoned.
type Command struct {
	Op      Op
	Ref     device.CharacteristicRef
	Payload []byte
	Mode    device.WriteMode
	Enable  bool

	// Attempts counts dispatches of this command; it starts at zero for every new head.
	Attempts int
}

func (c Command) String() string {
	switch c.Op {
	case OpWrite:
		return fmt.Sprintf("write(%s, % x, %s)", c.Ref, c.Payload, c.Mode)
	case OpSetNotify:
		return fmt.Sprintf("set_notify(%s, %t)", c.Ref, c.Enable)
	case OpDiscover:
		return "discover()"
	default:
		return fmt.Sprintf("%s(%s)", c.Op, c.Ref)
	}
}

// DispatchFunc issues cmd against the transport handle. A non-nil error means the
// request was not issued and no completion will follow.
type DispatchFunc func(h device.Handle, cmd Command) error

// CommandQueue serializes operations against a transport that supports one
// in-flight request per link. Commands run in strict FIFO order; the queue advances
// only after Completed or Retry.
type CommandQueue struct {
	mu         sync.Mutex
	pending    []*Command
	busy       bool
	retrying   bool
	maxRetries int
	handle     device.Handle
	closed     bool

	dispatch  DispatchFunc
	onAbandon func(Command)
	logger    *logrus.Logger
}

// NewCommandQueue creates a detached queue. Commands enqueued before Attach are drained.
func NewCommandQueue(dispatch DispatchFunc, maxRetries int, logger *logrus.Logger) *CommandQueue {
	if logger == nil {
		logger = logrus.New()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &CommandQueue{
		dispatch:   dispatch,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// SetAbandonHandler installs fn, called outside the lock for every command
// dropped without a completion: retry budget used up or request not issued.
func (q *CommandQueue) SetAbandonHandler(fn func(Command)) {
	q.mu.Lock()
	q.onAbandon = fn
	q.mu.Unlock()
}

// Enqueue appends cmd to the tail and advances the queue if idle.
// Returns false only when the queue has been closed.
func (q *CommandQueue) Enqueue(cmd Command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	c := cmd
	c.Payload = bytes.Clone(cmd.Payload)
	c.Attempts = 0
	q.pending = append(q.pending, &c)
	depth := len(q.pending)
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"command": c.String(),
		"depth":   depth,
	}).Debug("Command enqueued")

	q.advance()
	return true
}

// advance dispatches the head command unless one is already in flight.
// Without a transport handle the whole queue is drained.
func (q *CommandQueue) advance() {
	for {
		q.mu.Lock()
		if q.busy {
			q.mu.Unlock()
			return
		}
		if q.handle == nil {
			dropped := len(q.pending)
			q.pending = nil
			q.retrying = false
			q.mu.Unlock()
			if dropped > 0 {
				q.logger.WithField("dropped", dropped).Warn("No transport handle, clearing command queue")
			}
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}

		head := q.pending[0]
		head.Attempts++
		q.busy = true
		cmd := *head
		h := q.handle
		q.mu.Unlock()

		q.logger.WithFields(logrus.Fields{
			"command": cmd.String(),
			"attempt": cmd.Attempts,
		}).Debug("Dispatching command")

		err := q.dispatch(h, cmd)
		if err == nil {
			return
		}

		q.logger.WithFields(logrus.Fields{
			"command": cmd.String(),
			"error":   err,
		}).Error("Command was not issued")

		// Not issued: no completion will arrive, so finish it here and move on.
		q.mu.Lock()
		dropped := q.busy && len(q.pending) > 0 && q.pending[0] == head
		if dropped {
			q.pending = q.pending[1:]
			q.busy = false
			q.retrying = false
		}
		onAbandon := q.onAbandon
		q.mu.Unlock()
		if dropped && onAbandon != nil {
			onAbandon(cmd)
		}
	}
}

// Completed finishes the in-flight command (success or terminal failure) and
// advances. Completions that do not match the in-flight command are ignored.
func (q *CommandQueue) Completed(op Op, ref device.CharacteristicRef) bool {
	q.mu.Lock()
	if !q.matchesHead(op, ref) {
		q.mu.Unlock()
		q.logger.WithFields(logrus.Fields{
			"op":  op.String(),
			"ref": ref.String(),
		}).Debug("Ignoring completion for a command that is not in flight")
		return false
	}
	q.pending = q.pending[1:]
	q.busy = false
	q.retrying = false
	q.mu.Unlock()

	q.advance()
	return true
}

// Retry handles a retryable failure of the in-flight command. The head is
// re-dispatched in place until it has used up its retry budget, then abandoned.
func (q *CommandQueue) Retry(op Op, ref device.CharacteristicRef) bool {
	q.mu.Lock()
	if !q.matchesHead(op, ref) {
		q.mu.Unlock()
		return false
	}
	q.busy = false
	head := q.pending[0]
	abandoned := head.Attempts >= q.maxRetries
	if abandoned {
		q.pending = q.pending[1:]
		q.retrying = false
	} else {
		q.retrying = true
	}
	onAbandon := q.onAbandon
	q.mu.Unlock()

	if abandoned {
		q.logger.WithFields(logrus.Fields{
			"command":  head.String(),
			"attempts": head.Attempts,
			"error":    device.ErrRetryBudgetExhausted,
		}).Warn("Max retries reached, dropping command")
		if onAbandon != nil {
			onAbandon(*head)
		}
	} else {
		q.logger.WithFields(logrus.Fields{
			"command": head.String(),
			"attempt": head.Attempts,
		}).Warn("Retrying command")
	}

	q.advance()
	return true
}

func (q *CommandQueue) matchesHead(op Op, ref device.CharacteristicRef) bool {
	if !q.busy || len(q.pending) == 0 {
		return false
	}
	head := q.pending[0]
	return head.Op == op && head.Ref == ref
}

// HasPending reports whether a queued command, in flight or not, satisfies match.
func (q *CommandQueue) HasPending(match func(Command) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.pending {
		if match(*c) {
			return true
		}
	}
	return false
}

// Attach binds the live transport handle and starts dispatching.
func (q *CommandQueue) Attach(h device.Handle) {
	q.mu.Lock()
	q.handle = h
	q.mu.Unlock()
	q.advance()
}

// Detach invalidates the transport handle and drops every pending command,
// including the one in flight. Returns the number of commands dropped.
func (q *CommandQueue) Detach() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.pending)
	q.handle = nil
	q.pending = nil
	q.busy = false
	q.retrying = false
	return dropped
}

// Close detaches the queue and rejects further commands.
func (q *CommandQueue) Close() {
	q.Detach()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the number of pending commands, including the one in flight.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a command is in flight.
func (q *CommandQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Retrying reports whether the in-flight command is a re-dispatch.
func (q *CommandQueue) Retrying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retrying
}

// Head returns a copy of the head command.
func (q *CommandQueue) Head() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Command{}, false
	}
	return *q.pending[0], true
}
