package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Link error taxonomy
var (
	// ErrTransportUnavailable means there is no live transport handle. Fatal to the whole command queue.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrUnsupported means the characteristic lacks the capability the operation needs.
	ErrUnsupported = errors.New("unsupported")

	// ErrTransient is a retryable transport failure.
	ErrTransient = errors.New("transient transport failure")

	// ErrSecurity is an insufficient authentication or encryption failure. It escalates to bonding.
	ErrSecurity = errors.New("insufficient authentication or encryption")

	// ErrRetryBudgetExhausted marks a command dropped after its retries ran out.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	ErrTimeout = errors.New("timeout")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ----------------------------
// Completion status
// ----------------------------

// Status is the outcome a transport reports for an asynchronous operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTransient
	StatusInsufficientAuthentication
	StatusInsufficientEncryption
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTransient:
		return "transient"
	case StatusInsufficientAuthentication:
		return "insufficient_authentication"
	case StatusInsufficientEncryption:
		return "insufficient_encryption"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsSecurityFailure reports whether the status requires bonding.
func (s Status) IsSecurityFailure() bool {
	return s == StatusInsufficientAuthentication || s == StatusInsufficientEncryption
}

// Err maps the status onto the error taxonomy. Success maps to nil.
func (s Status) Err() error {
	switch {
	case s == StatusSuccess:
		return nil
	case s == StatusTransient:
		return ErrTransient
	case s.IsSecurityFailure():
		return fmt.Errorf("%w: %s", ErrSecurity, s)
	default:
		return fmt.Errorf("operation failed: %s", s)
	}
}

// StatusFromError classifies an error produced by a transport implementation.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrSecurity):
		if containsIgnoreCase(err.Error(), "encryption") {
			return StatusInsufficientEncryption
		}
		return StatusInsufficientAuthentication
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return StatusTransient
	default:
		return StatusFailure
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ConnState is the connection phase reported by the transport.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("conn_state(%d)", int(s))
	}
}

// ----------------------------
// Characteristics
// ----------------------------

// CharacteristicRef identifies one addressable data point on the peripheral.
// Both UUIDs are stored normalized, so refs compare equal regardless of input format.
type CharacteristicRef struct {
	Service string
	UUID    string
}

// NewCharacteristicRef builds a ref with normalized service and characteristic UUIDs.
func NewCharacteristicRef(service, uuid string) CharacteristicRef {
	return CharacteristicRef{Service: NormalizeUUID(service), UUID: NormalizeUUID(uuid)}
}

func (r CharacteristicRef) String() string {
	if r.Service == "" {
		return r.UUID
	}
	return r.Service + "/" + r.UUID
}

// IsZero reports whether the ref is unset.
func (r CharacteristicRef) IsZero() bool {
	return r.UUID == ""
}

// CharacteristicInfo is the advertised metadata of a discovered characteristic.
type CharacteristicInfo struct {
	Ref        CharacteristicRef
	Properties Property
}

// WriteMode selects how a write is acknowledged by the peripheral.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
	WriteSigned
)

func (m WriteMode) String() string {
	switch m {
	case WriteWithResponse:
		return "with-response"
	case WriteWithoutResponse:
		return "without-response"
	case WriteSigned:
		return "signed"
	default:
		return fmt.Sprintf("write_mode(%d)", int(m))
	}
}

// ParseWriteMode converts a CLI/config string to a WriteMode.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "with-response", "response", "default":
		return WriteWithResponse, nil
	case "without-response", "no-response", "command":
		return WriteWithoutResponse, nil
	case "signed":
		return WriteSigned, nil
	default:
		return 0, fmt.Errorf("invalid write mode %q: use with-response, without-response, or signed", s)
	}
}

// ----------------------------
// Transport collaborator
// ----------------------------

// Callbacks receives the asynchronous completions of a transport handle.
// Implementations must not block: completions may be delivered from transport goroutines.
type Callbacks interface {
	ConnectionStateChanged(state ConnState)
	CapabilitiesDiscovered(status Status)
	CharacteristicRead(ref CharacteristicRef, data []byte, status Status)
	// CharacteristicWritten carries the payload the peripheral acknowledged.
	CharacteristicWritten(ref CharacteristicRef, data []byte, status Status)
	// CharacteristicChanged is an unsolicited notification or indication.
	CharacteristicChanged(ref CharacteristicRef, data []byte)
	DescriptorWritten(ref CharacteristicRef, enabled bool, status Status)
}

// Handle is a live link to one peripheral. Operations only issue a request;
// a non-nil error means the request was not issued and no completion will follow.
type Handle interface {
	Disconnect() error
	Close() error
	DiscoverCapabilities() error
	ReadCharacteristic(ref CharacteristicRef) error
	WriteCharacteristic(ref CharacteristicRef, data []byte, mode WriteMode) error
	SetCharacteristicNotify(ref CharacteristicRef, enabled bool) error
	RequestBonding() error
	Characteristics() []CharacteristicInfo
}

// Transport opens handles to peripherals.
type Transport interface {
	Connect(ctx context.Context, address string, cb Callbacks) (Handle, error)
}
