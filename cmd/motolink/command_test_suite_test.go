package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/srg/motolink/internal/testutils"
)

// Test device address for consistent mock device identification
const TestDeviceAddress = "00:00:00:00:00:01"

const (
	linUUID     = "00000003-007c-11e5-9ad8-0002a5d5c51b"
	canUUID     = "00000004-007c-11e5-9ad8-0002a5d5c51b"
	commandUUID = "00000005-007c-11e5-9ad8-0002a5d5c51b"
)

// syncBuffer is a bytes.Buffer safe for a command goroutine and a test reading at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite extends MockGATTSuite with command testing utilities.
// All cmd/motolink test suites should embed this instead of MockGATTSuite.
type CommandTestSuite struct {
	testutils.MockGATTSuite
}

// newCommand builds a fresh root command with output captured.
func (s *CommandTestSuite) newCommand(stdout, stderr *syncBuffer, args ...string) *cobra.Command {
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))
	return cmd
}

// ExecuteCommand runs the command to completion and returns stdout and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	var stdout, stderr syncBuffer
	err := s.newCommand(&stdout, &stderr, args...).Execute()
	return stdout.String(), err
}

// StartCommand runs a long-lived command in the background. The returned
// function cancels it and returns its error.
func (s *CommandTestSuite) StartCommand(args ...string) (*syncBuffer, func() error) {
	stdout := &syncBuffer{}
	cmd := s.newCommand(stdout, &syncBuffer{}, args...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	return stdout, func() error {
		cancel()
		return <-done
	}
}
