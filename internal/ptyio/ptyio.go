// Package ptyio exposes a pseudo-terminal whose slave end external tools
// (serial terminals, loggers, decoders) open like a serial port.
//
// Bytes written to the PTY are queued in a ring buffer and flushed to the
// master by a background loop; bytes the slave side sends are delivered to a
// read callback. Neither direction blocks the caller: when a buffer is full the
// excess is dropped and counted.
//
//	p, err := ptyio.Open(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	p.SetReadCallback(func(data []byte) { ... })
//	fmt.Println("attach to", p.TTYName())
//	p.Write([]byte("0501020304\n"))
package ptyio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/motolink/internal/groutine"
)

const (
	DefaultBufferSize  = 64 * 1024
	DefaultPollTimeout = 50 * time.Millisecond

	closeTimeout = 2 * time.Second
)

// ReadCallback receives data the slave side sent. It runs on a background
// goroutine and must not retain data.
type ReadCallback func(data []byte)

// Options configures Open. Zero values use the defaults.
type Options struct {
	ReadCap     int
	WriteCap    int
	PollTimeout time.Duration
	Logger      *logrus.Logger
}

// Stats are runtime counters for monitoring.
type Stats struct {
	WriteQueueLen     int
	ReadQueueLen      int
	DroppedWriteBytes uint64
	DroppedReadBytes  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

// PTY is the master side of a pseudo-terminal pair.
type PTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File // kept open so the device node stays usable
	ttyName     string
	pollTimeout int // milliseconds

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	readCb      atomic.Value // ReadCallback
	readNotify  chan struct{}
	writeNotify chan struct{}

	cancel context.CancelFunc
	loops  groutine.Group
	closed atomic.Bool

	droppedWrite atomic.Uint64
	droppedRead  atomic.Uint64
	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
}

// Open creates a raw-mode PTY pair and starts the I/O loops.
func Open(opts Options) (*PTY, error) {
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultBufferSize
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultBufferSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:      logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readBuf:     ringbuffer.New(opts.ReadCap),
		readNotify:  make(chan struct{}, 1),
		writeNotify: make(chan struct{}, 1),
		cancel:      cancel,
	}

	p.loops.Go(ctx, "pty-read-loop", p.readLoop)
	p.loops.Go(ctx, "pty-write-loop", p.writeLoop)
	p.loops.Go(ctx, "pty-dispatcher", p.dispatchLoop)

	logger.WithField("tty", p.ttyName).Info("PTY opened")
	return p, nil
}

func createPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	fail := func(step string, err error) (*os.File, *os.File, error) {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set PTY %s to %s mode: %w", name, step, err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("nonblocking", err)
	}
	return master, slave, nil
}

func (p *PTY) poll(fd []unix.PollFd) int {
	n, err := unix.Poll(fd, p.pollTimeout)
	if err != nil && !errors.Is(err, syscall.EINTR) {
		p.logger.WithField("error", err).Warn("PTY poll failed")
	}
	return n
}

func (p *PTY) writeLoop(ctx context.Context) {
	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		if p.writeBuf.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-p.writeNotify:
			}
			continue
		}
		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithField("error", err).Warn("PTY write queue read failed")
			continue
		}

		for off := 0; off < n && ctx.Err() == nil; {
			w, err := master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.writeBytes.Add(uint64(w))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				p.poll(fds)
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.logger.WithField("error", err).Error("PTY write loop stopped")
				return
			}
		}
	}
}

func (p *PTY) readLoop(ctx context.Context) {
	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		if p.poll(fds) <= 0 {
			continue
		}
		n, err := master.Read(buf)
		if n > 0 {
			w, _ := p.readBuf.Write(buf[:n])
			if w < n {
				p.droppedRead.Add(uint64(n - w))
				p.logger.WithFields(logrus.Fields{
					"received": n,
					"buffered": w,
				}).Warn("PTY read buffer overflow")
			}
			p.readBytes.Add(uint64(w))
			signal(p.readNotify)
		}
		switch {
		case err == nil:
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
			// No slave attached right now; keep waiting for the next one.
			time.Sleep(time.Duration(p.pollTimeout) * time.Millisecond)
		case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
			return
		default:
			p.logger.WithField("error", err).Error("PTY read loop stopped")
			return
		}
	}
}

func (p *PTY) dispatchLoop(ctx context.Context) {
	tmp := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.readNotify:
		}
		cb, _ := p.readCb.Load().(ReadCallback)
		if cb == nil {
			continue
		}
		for ctx.Err() == nil {
			n, _ := p.readBuf.TryRead(tmp)
			if n == 0 {
				break
			}
			p.deliver(cb, bytes.Clone(tmp[:n]))
		}
	}
}

func (p *PTY) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("PTY read callback panicked")
		}
	}()
	cb(data)
}

// SetReadCallback installs cb; nil stops delivery. Buffered input is delivered right away.
func (p *PTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	p.readCb.Store(cb)
	signal(p.readNotify)
}

// signal wakes a loop without blocking; one pending wakeup is enough.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Write queues data for the slave. It never blocks; a short count means the
// queue was full and the rest was dropped.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n > 0 {
		signal(p.writeNotify)
	}
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"queued":  n,
			"dropped": len(data) - n,
		}).Warn("PTY write buffer overflow")
	}
	return n, nil
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (p *PTY) TTYName() string {
	return p.ttyName
}

func (p *PTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		ReadQueueLen:      p.readBuf.Length(),
		DroppedWriteBytes: p.droppedWrite.Load(),
		DroppedReadBytes:  p.droppedRead.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}

// Close stops the loops and closes both ends. Safe to call more than once.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close slave: %w", err))
	}

	done := make(chan struct{})
	go func() {
		p.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		p.logger.WithField("tty", p.ttyName).Warn("PTY loops still running after close")
	}
	return errors.Join(errs...)
}
