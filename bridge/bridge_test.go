package bridge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

type write struct {
	ref  device.CharacteristicRef
	data []byte
	mode device.WriteMode
}

// fakeLink publishes events on a real bus and records writes.
type fakeLink struct {
	bus     *link.EventBus
	profile link.Profile
	mu      sync.Mutex
	writes  []write
	written chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		bus:     link.NewEventBus(16, nil),
		profile: link.DefaultProfile(),
		written: make(chan struct{}, 16),
	}
}

func (l *fakeLink) Events() *link.EventBus { return l.bus }

func (l *fakeLink) Profile() link.Profile { return l.profile }

func (l *fakeLink) Write(ref device.CharacteristicRef, data []byte, mode device.WriteMode) error {
	l.mu.Lock()
	l.writes = append(l.writes, write{ref, bytes.Clone(data), mode})
	l.mu.Unlock()
	l.written <- struct{}{}
	return nil
}

func (l *fakeLink) Writes() []write {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]write(nil), l.writes...)
}

type BridgeTestSuite struct {
	suite.Suite
	link   *fakeLink
	bridge *Bridge
	slave  *os.File
	cancel context.CancelFunc
	done   chan error
}

func (s *BridgeTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s.link = newFakeLink()
	b, err := Open(s.link, Options{Logger: logger})
	if err != nil {
		s.T().Skipf("PTY not available: %v", err)
	}
	s.bridge = b

	s.slave, err = os.OpenFile(b.TTYName(), os.O_RDWR, 0)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- b.Run(ctx) }()
}

func (s *BridgeTestSuite) TearDownTest() {
	if s.bridge == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		s.Fail("bridge did not stop after cancellation")
	}
	_ = s.slave.Close()
	s.NoError(s.bridge.Close())
	s.bridge = nil
}

func (s *BridgeTestSuite) readLine() string {
	s.Require().NoError(s.slave.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var got []byte
	buf := make([]byte, 256)
	for !bytes.Contains(got, []byte("\n")) {
		n, err := s.slave.Read(buf)
		s.Require().NoError(err, "PTY slave MUST receive the line")
		got = append(got, buf[:n]...)
	}
	return string(got)
}

func (s *BridgeTestSuite) TestDataEventsBecomeLines() {
	// GOAL: Verify data events reach the PTY slave as "<source> <HEX>" lines
	//
	// TEST SCENARIO: LIN event published → slave reads "lin 0501FF"

	s.link.bus.Publish(link.Event{Kind: link.EventDataAvailable, Ref: s.link.profile.LIN, Data: []byte{0x05, 0x01, 0xFF}})

	s.Equal("lin 0501FF\n", s.readLine())
}

func (s *BridgeTestSuite) TestInputLinesWriteCommand() {
	// GOAL: Verify hex lines typed into the slave are written to the command characteristic

	_, err := s.slave.Write([]byte("57 52 57 01\n# comment\n\n"))
	s.Require().NoError(err)

	select {
	case <-s.link.written:
	case <-time.After(2 * time.Second):
		s.FailNow("command write MUST be issued")
	}
	writes := s.link.Writes()
	s.Require().Len(writes, 1, "comments and blank lines MUST NOT be written")
	s.Equal(s.link.profile.Command, writes[0].ref)
	s.Equal([]byte{0x57, 0x52, 0x57, 0x01}, writes[0].data)
	s.Equal(device.WriteWithResponse, writes[0].mode)
}

func (s *BridgeTestSuite) TestLinkLossStopsRun() {
	s.link.bus.Publish(link.Event{Kind: link.EventDisconnected})

	select {
	case err := <-s.done:
		s.ErrorIs(err, ErrLinkLost)
	case <-time.After(2 * time.Second):
		s.Fail("Run MUST return when the link drops")
	}
	s.done <- nil // TearDownTest waits on done
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []byte
		wantErr bool
	}{
		{name: "plain hex", line: "575257", want: []byte{0x57, 0x52, 0x57}},
		{name: "spaced and prefixed", line: "0x57 52:57", want: []byte{0x57, 0x52, 0x57}},
		{name: "blank", line: "   ", want: nil},
		{name: "comment", line: "# hello", want: nil},
		{name: "odd length", line: "575", wantErr: true},
		{name: "not hex", line: "zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatLine(t *testing.T) {
	assert.Equal(t, "can 0A0B\n", FormatLine(link.BusCAN, []byte{0x0a, 0x0b}))
}

func TestSymlink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motolink")
	b, err := Open(newFakeLink(), Options{TTYSymlinkPath: path})
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}

	target, err := os.Readlink(path)
	require.NoError(t, err)
	assert.Equal(t, b.TTYName(), target)
	assert.Equal(t, path, b.TTYSymlink())

	require.NoError(t, b.Close())
	_, err = os.Lstat(path)
	assert.True(t, os.IsNotExist(err), "symlink MUST be removed on close")
}
