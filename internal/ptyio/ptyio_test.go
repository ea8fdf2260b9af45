package ptyio

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPTY(t *testing.T) *PTY {
	t.Helper()
	p, err := Open(Options{PollTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPTY_WriteReachesSlave(t *testing.T) {
	// GOAL: Verify bytes queued with Write arrive on the slave device

	p := openTestPTY(t)
	require.NotEmpty(t, p.TTYName())

	n, err := p.Write([]byte("050102\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()
	require.NoError(t, slave.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 64)
	var got []byte
	for !bytes.Contains(got, []byte("\n")) {
		n, err := slave.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "050102\n", string(got))
}

func TestPTY_SlaveInputReachesCallback(t *testing.T) {
	p := openTestPTY(t)

	var mu sync.Mutex
	var got []byte
	received := make(chan struct{}, 16)
	p.SetReadCallback(func(data []byte) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
		received <- struct{}{}
	})

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()
	_, err = slave.Write([]byte("57525701\n"))
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := bytes.Contains(got, []byte("\n"))
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-received:
		case <-deadline:
			t.Fatal("timed out waiting for slave input")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "57525701\n", string(got))
	assert.Equal(t, uint64(9), p.Stats().ReadBytesTotal)
}

func TestPTY_WriteOverflowIsCounted(t *testing.T) {
	p, err := Open(Options{WriteCap: 8, PollTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	defer p.Close()

	n, err := p.Write(bytes.Repeat([]byte{'A'}, 20))
	require.NoError(t, err, "overflow MUST NOT be reported as an error")
	assert.LessOrEqual(t, n, 8)
	assert.Equal(t, uint64(20-n), p.Stats().DroppedWriteBytes)
}

func TestPTY_Close(t *testing.T) {
	p := openTestPTY(t)

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "Close MUST be idempotent")

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
