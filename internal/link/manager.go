package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/motolink/internal/device"
)

// Manager is the link facade: it validates requests, feeds the command queue
// and turns transport completions into state, registry and router updates.
type Manager struct {
	transport device.Transport
	profile   Profile
	logger    *logrus.Logger

	maxRetries  int
	eventBuffer int
	recorder    FrameRecorder
	linParser   BusParser
	canParser   BusParser

	mu       sync.Mutex
	session  *LinkSession
	draining bool
	drainRef device.CharacteristicRef // unsubscribe the drain waits on

	state    *StateMachine
	queue    *CommandQueue
	registry *NotificationRegistry
	frames   *FrameStore
	router   *Router
	events   *EventBus
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

func WithEventBuffer(n int) Option {
	return func(m *Manager) { m.eventBuffer = n }
}

func WithFrameRecorder(rec FrameRecorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

func WithParsers(lin, can BusParser) Option {
	return func(m *Manager) {
		m.linParser = lin
		m.canParser = can
	}
}

// WithFrameStore shares a frame store between managers, so dedup survives a new Manager.
func WithFrameStore(fs *FrameStore) Option {
	return func(m *Manager) { m.frames = fs }
}

// New creates a disconnected manager.
func New(transport device.Transport, profile Profile, opts ...Option) *Manager {
	m := &Manager{
		transport:   transport,
		profile:     profile,
		maxRetries:  DefaultMaxRetries,
		eventBuffer: DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.New()
	}
	if m.frames == nil {
		m.frames = NewFrameStore()
	}

	m.events = NewEventBus(m.eventBuffer, m.logger)
	m.state = NewStateMachine(m.events.Publish, m.logger)
	m.queue = NewCommandQueue(m.dispatch, m.maxRetries, m.logger)
	m.queue.SetAbandonHandler(m.onAbandoned)
	m.registry = NewNotificationRegistry()
	m.router = NewRouter(profile, m.frames, m.events.Publish, m.logger)
	m.router.SetParsers(m.linParser, m.canParser)
	m.router.SetRecorder(m.recorder)
	return m
}

// ----------------------------
// Lifecycle
// ----------------------------

// Connect opens a link to address. The Connected event follows once the
// transport reports the link up.
func (m *Manager) Connect(ctx context.Context, address, displayName string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("device address is empty")
	}

	m.mu.Lock()
	if m.session != nil {
		peer := m.session.Peer
		m.mu.Unlock()
		m.logger.WithField("address", address).Warn("Connection attempt while a session exists")
		return &device.ConnectionError{State: device.AlreadyConnected, Msg: peer.String()}
	}
	if displayName == "" {
		displayName = address
	}
	s := newLinkSession(PeerIdentity{Address: address, DisplayName: displayName})
	m.session = s
	m.mu.Unlock()

	if _, err := m.state.Transition(StateConnecting); err != nil {
		m.dropSession(s)
		return err
	}

	m.logger.WithField("peer", s.Peer.String()).Info("Connecting to device...")

	h, err := m.transport.Connect(ctx, address, &sessionCallbacks{m: m, s: s})
	if err != nil {
		m.dropSession(s)
		m.transition(StateDisconnected)
		m.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to connect")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}

	m.mu.Lock()
	if m.session != s {
		// Disconnect raced the dial.
		m.mu.Unlock()
		m.closeHandle(h)
		return &device.ConnectionError{State: device.NotConnected, Msg: "connection cancelled"}
	}
	s.handle = h
	connected, lost := s.earlyConnected, s.earlyLost
	m.mu.Unlock()

	m.queue.Attach(h)

	switch {
	case lost:
		m.linkLost(s)
	case connected:
		m.transition(StateConnected)
	}
	return nil
}

// Disconnect tears the link down immediately. It is not queued: pending
// commands are dropped and a single Disconnected event is emitted.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return device.ErrNotConnected
	}
	m.session = nil
	m.draining = false
	h := s.handle
	m.mu.Unlock()

	m.transition(StateDisconnecting)
	dropped := m.queue.Detach()

	var errs []error
	if h != nil {
		if err := h.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	subs := m.registry.Clear()
	m.transition(StateDisconnected)

	m.logger.WithFields(logrus.Fields{
		"peer":          s.Peer.String(),
		"dropped":       dropped,
		"subscriptions": subs,
	}).Info("Disconnected")
	return errors.Join(errs...)
}

// Close disconnects if needed and releases the queue and event bus.
func (m *Manager) Close() error {
	var err error
	if m.hasSession() {
		err = m.Disconnect()
	}
	m.queue.Close()
	m.events.Close()
	return err
}

// linkLost handles a transport-reported disconnection of session s.
func (m *Manager) linkLost(s *LinkSession) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	if s.handle == nil {
		s.earlyLost = true
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.draining = false
	h := s.handle
	m.mu.Unlock()

	dropped := m.queue.Detach()
	subs := m.registry.Clear()
	m.closeHandle(h)
	m.transition(StateDisconnected)

	m.logger.WithFields(logrus.Fields{
		"peer":          s.Peer.String(),
		"dropped":       dropped,
		"subscriptions": subs,
	}).Warn("Link lost")
}

func (m *Manager) linkUp(s *LinkSession) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	if s.handle == nil {
		s.earlyConnected = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.transition(StateConnected)
}

func (m *Manager) dropSession(s *LinkSession) {
	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()
}

func (m *Manager) closeHandle(h device.Handle) {
	if err := h.Close(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to close transport handle")
	}
}

func (m *Manager) transition(to LinkState) {
	if _, err := m.state.Transition(to); err != nil {
		m.logger.WithField("error", err).Debug("Ignoring link state change")
	}
}

// ----------------------------
// Operations
// ----------------------------

// DiscoverCapabilities queues a capability discovery. Reads, writes and
// notifications are rejected until it has completed.
func (m *Manager) DiscoverCapabilities() error {
	if !m.IsConnected() {
		return device.ErrNotConnected
	}
	return m.enqueue(Command{Op: OpDiscover})
}

// Read queues a read of ref. The value arrives through the router.
func (m *Manager) Read(ref device.CharacteristicRef) error {
	target, props, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if !props.CanRead() {
		return fmt.Errorf("%w: characteristic %s does not support read (%s)", device.ErrUnsupported, target, props)
	}
	return m.enqueue(Command{Op: OpRead, Ref: target})
}

// Write queues a write of data to ref. The mode must match an advertised
// capability; data is copied before the call returns.
func (m *Manager) Write(ref device.CharacteristicRef, data []byte, mode device.WriteMode) error {
	target, props, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if !props.SupportsWrite(mode) {
		return fmt.Errorf("%w: characteristic %s does not support %s writes (%s)", device.ErrUnsupported, target, mode, props)
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	return m.enqueue(Command{Op: OpWrite, Ref: target, Payload: payload, Mode: mode})
}

// SetNotify queues enabling or disabling notifications on ref.
func (m *Manager) SetNotify(ref device.CharacteristicRef, enabled bool) error {
	target, props, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if !props.CanNotify() {
		return fmt.Errorf("%w: characteristic %s does not support notifications (%s)", device.ErrUnsupported, target, props)
	}
	return m.enqueue(Command{Op: OpSetNotify, Ref: target, Enable: enabled})
}

// UnsubscribeAll disables every active subscription, one at a time.
// Draining stops at the first failed or abandoned unsubscribe; a later call
// starts a new drain.
func (m *Manager) UnsubscribeAll() error {
	if !m.IsConnected() {
		return device.ErrNotConnected
	}
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	m.mu.Unlock()

	m.drainNext()
	return nil
}

// drainNext unsubscribes the oldest entry that has no disable queued yet.
// When every remaining entry already has one, the drain follows the oldest.
func (m *Manager) drainNext() {
	m.mu.Lock()
	if !m.draining {
		m.mu.Unlock()
		return
	}
	subs := m.registry.Snapshot()
	if len(subs) == 0 {
		m.draining = false
		m.mu.Unlock()
		m.logger.Debug("All subscriptions removed")
		return
	}
	next, issue := subs[0], false
	for _, ref := range subs {
		if !m.queue.HasPending(disables(ref)) {
			next, issue = ref, true
			break
		}
	}
	m.drainRef = next
	m.mu.Unlock()

	if !issue {
		return
	}
	if err := m.enqueue(Command{Op: OpSetNotify, Ref: next, Enable: false}); err != nil {
		m.stopDrain(next)
	}
}

// drainStep reports whether ref is the unsubscribe the drain waits on.
func (m *Manager) drainStep(ref device.CharacteristicRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining && m.drainRef == ref
}

// stopDrain ends the drain if it waits on ref.
func (m *Manager) stopDrain(ref device.CharacteristicRef) {
	m.mu.Lock()
	if m.draining && m.drainRef == ref {
		m.draining = false
		m.logger.WithField("ref", ref.String()).Warn("Unsubscribe failed, stopping bulk unsubscribe")
	}
	m.mu.Unlock()
}

func disables(ref device.CharacteristicRef) func(Command) bool {
	return func(c Command) bool {
		return c.Op == OpSetNotify && !c.Enable && c.Ref == ref
	}
}

// onAbandoned runs for commands the queue dropped without a completion.
func (m *Manager) onAbandoned(cmd Command) {
	if cmd.Op == OpSetNotify && !cmd.Enable {
		m.stopDrain(cmd.Ref)
	}
}

func (m *Manager) lookup(ref device.CharacteristicRef) (device.CharacteristicRef, device.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.state.State().IsUp() {
		return ref, 0, device.ErrNotConnected
	}
	return m.session.resolve(ref)
}

func (m *Manager) enqueue(cmd Command) error {
	if !m.queue.Enqueue(cmd) {
		return fmt.Errorf("%w: command queue closed", device.ErrTransportUnavailable)
	}
	return nil
}

// dispatch issues one queued command against the transport handle.
func (m *Manager) dispatch(h device.Handle, cmd Command) error {
	var err error
	switch cmd.Op {
	case OpDiscover:
		err = h.DiscoverCapabilities()
	case OpRead:
		err = h.ReadCharacteristic(cmd.Ref)
	case OpWrite:
		err = h.WriteCharacteristic(cmd.Ref, cmd.Payload, cmd.Mode)
		if err != nil {
			m.events.Publish(Event{Kind: EventWriteFailed, Ref: cmd.Ref, Data: cmd.Payload, Err: err})
		}
	case OpSetNotify:
		err = h.SetCharacteristicNotify(cmd.Ref, cmd.Enable)
	default:
		err = fmt.Errorf("unknown operation %s", cmd.Op)
	}
	return err
}

// ----------------------------
// Transport completions
// ----------------------------

func (m *Manager) onCapabilitiesDiscovered(s *LinkSession, status device.Status) {
	if !m.isCurrent(s) {
		return
	}
	ref := device.CharacteristicRef{}

	switch {
	case status == device.StatusSuccess:
		var infos []device.CharacteristicInfo
		if h := m.handleOf(s); h != nil {
			infos = h.Characteristics()
		}
		caps := make(map[device.CharacteristicRef]device.Property, len(infos))
		for _, info := range infos {
			caps[info.Ref] = info.Properties
		}
		m.mu.Lock()
		s.caps = caps
		m.mu.Unlock()

		m.logger.WithField("characteristics", len(caps)).Info("Capabilities discovered")
		m.events.Publish(Event{Kind: EventServicesDiscovered})
		m.queue.Completed(OpDiscover, ref)

	case status == device.StatusTransient:
		m.queue.Retry(OpDiscover, ref)

	case status.IsSecurityFailure():
		m.escalateBonding(s, status)
		m.events.Publish(Event{Kind: EventServiceDiscoveryFailed, Err: status.Err()})
		m.queue.Completed(OpDiscover, ref)

	default:
		m.logger.WithField("status", status.String()).Error("Capability discovery failed")
		m.events.Publish(Event{Kind: EventServiceDiscoveryFailed, Err: status.Err()})
		m.queue.Completed(OpDiscover, ref)
	}
}

func (m *Manager) onCharacteristicRead(s *LinkSession, ref device.CharacteristicRef, data []byte, status device.Status) {
	if !m.isCurrent(s) {
		return
	}
	switch status {
	case device.StatusSuccess:
		m.router.Route(ref, data)
		m.queue.Completed(OpRead, ref)
	case device.StatusTransient:
		m.queue.Retry(OpRead, ref)
	default:
		m.logger.WithFields(logrus.Fields{
			"ref":    ref.String(),
			"status": status.String(),
		}).Error("Characteristic read failed")
		m.queue.Completed(OpRead, ref)
	}
}

func (m *Manager) onCharacteristicWritten(s *LinkSession, ref device.CharacteristicRef, data []byte, status device.Status) {
	if !m.isCurrent(s) {
		return
	}
	switch {
	case status == device.StatusSuccess:
		isCommand := m.router.IsCommand(ref)
		if isCommand {
			m.router.Route(ref, data)
		}
		m.events.Publish(Event{Kind: EventWriteSucceeded, Ref: ref, Data: data})
		m.queue.Completed(OpWrite, ref)
		if isCommand {
			// Fetch the device's reply to the command.
			if err := m.enqueue(Command{Op: OpRead, Ref: ref}); err != nil {
				m.logger.WithField("error", err).Warn("Failed to queue command response read")
			}
		}

	case status == device.StatusTransient:
		m.queue.Retry(OpWrite, ref)

	case status.IsSecurityFailure():
		m.escalateBonding(s, status)
		m.events.Publish(Event{Kind: EventWriteFailed, Ref: ref, Data: data, Err: status.Err()})
		m.queue.Completed(OpWrite, ref)

	default:
		m.logger.WithFields(logrus.Fields{
			"ref":    ref.String(),
			"status": status.String(),
		}).Error("Characteristic write failed")
		m.events.Publish(Event{Kind: EventWriteFailed, Ref: ref, Data: data, Err: status.Err()})
		m.queue.Completed(OpWrite, ref)
	}
}

func (m *Manager) onDescriptorWritten(s *LinkSession, ref device.CharacteristicRef, enabled bool, status device.Status) {
	if !m.isCurrent(s) {
		return
	}
	switch {
	case status == device.StatusSuccess:
		if enabled {
			if !m.registry.Add(ref) {
				m.logger.WithField("ref", ref.String()).Debug("Already subscribed")
			}
		} else {
			m.registry.Remove(ref)
		}
		m.queue.Completed(OpSetNotify, ref)
		if !enabled && m.drainStep(ref) {
			m.drainNext()
		}

	case status == device.StatusTransient:
		m.queue.Retry(OpSetNotify, ref)

	case status.IsSecurityFailure():
		if !enabled {
			m.stopDrain(ref)
		}
		m.escalateBonding(s, status)
		m.events.Publish(Event{Kind: EventWriteFailed, Ref: ref, Err: status.Err()})
		m.queue.Completed(OpSetNotify, ref)

	default:
		if !enabled {
			m.stopDrain(ref)
		}
		m.logger.WithFields(logrus.Fields{
			"ref":     ref.String(),
			"enabled": enabled,
			"status":  status.String(),
		}).Error("Descriptor write failed")
		m.events.Publish(Event{Kind: EventWriteFailed, Ref: ref, Err: status.Err()})
		m.queue.Completed(OpSetNotify, ref)
	}
}

func (m *Manager) onCharacteristicChanged(s *LinkSession, ref device.CharacteristicRef, data []byte) {
	if !m.isCurrent(s) {
		return
	}
	m.router.Route(ref, data)
}

// escalateBonding asks the transport to bond after a security failure.
// The failed operation is not retried; callers re-issue it.
func (m *Manager) escalateBonding(s *LinkSession, status device.Status) {
	h := m.handleOf(s)
	if h == nil {
		return
	}
	m.logger.WithField("status", status.String()).Warn("Security failure, requesting bonding")
	if err := h.RequestBonding(); err != nil {
		m.logger.WithField("error", err).Error("Bonding request failed")
		return
	}
	m.transition(StateBonded)
}

// ----------------------------
// Queries
// ----------------------------

func (m *Manager) isCurrent(s *LinkSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == s
}

func (m *Manager) hasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *Manager) handleOf(s *LinkSession) device.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.handle
}

// IsConnected reports whether commands can be issued.
func (m *Manager) IsConnected() bool {
	return m.hasSession() && m.state.State().IsUp()
}

func (m *Manager) State() LinkState {
	return m.state.State()
}

// Peer returns the identity of the current session.
func (m *Manager) Peer() (PeerIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return PeerIdentity{}, false
	}
	return m.session.Peer, true
}

// CurrentSubscriptions returns the characteristics with confirmed notifications.
func (m *Manager) CurrentSubscriptions() []device.CharacteristicRef {
	return m.registry.Snapshot()
}

// Characteristics returns the discovered characteristics of the current session.
func (m *Manager) Characteristics() []device.CharacteristicInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	out := make([]device.CharacteristicInfo, 0, len(m.session.caps))
	for ref, p := range m.session.caps {
		out = append(out, device.CharacteristicInfo{Ref: ref, Properties: p})
	}
	return out
}

// Events returns the bus lifecycle and data events are published on.
func (m *Manager) Events() *EventBus {
	return m.events
}

// QueueLen returns the number of pending commands, including the one in flight.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

func (m *Manager) Profile() Profile {
	return m.profile
}

func (m *Manager) HardwareRevision() string {
	return m.router.HardwareRevision()
}

func (m *Manager) LastConfig() (*ConfigRecord, bool) {
	return m.router.LastConfig()
}

// ----------------------------
// Callback adapter
// ----------------------------

// sessionCallbacks binds transport completions to the session they belong to.
type sessionCallbacks struct {
	m *Manager
	s *LinkSession
}

func (c *sessionCallbacks) ConnectionStateChanged(state device.ConnState) {
	switch state {
	case device.ConnConnected:
		c.m.linkUp(c.s)
	case device.ConnDisconnected:
		c.m.linkLost(c.s)
	default:
		c.m.logger.WithField("state", state.String()).Debug("Transport connection state")
	}
}

func (c *sessionCallbacks) CapabilitiesDiscovered(status device.Status) {
	c.m.onCapabilitiesDiscovered(c.s, status)
}

func (c *sessionCallbacks) CharacteristicRead(ref device.CharacteristicRef, data []byte, status device.Status) {
	c.m.onCharacteristicRead(c.s, ref, data, status)
}

func (c *sessionCallbacks) CharacteristicWritten(ref device.CharacteristicRef, data []byte, status device.Status) {
	c.m.onCharacteristicWritten(c.s, ref, data, status)
}

func (c *sessionCallbacks) CharacteristicChanged(ref device.CharacteristicRef, data []byte) {
	c.m.onCharacteristicChanged(c.s, ref, data)
}

func (c *sessionCallbacks) DescriptorWritten(ref device.CharacteristicRef, enabled bool, status device.Status) {
	c.m.onDescriptorWritten(c.s, ref, enabled, status)
}
