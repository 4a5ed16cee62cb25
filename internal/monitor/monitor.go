// Package monitor drives the packet-reading side of a device: it waits for
// the descriptor to become readable and hands each packet to a callback.
package monitor

import (
	"context"
	"errors"
	"syscall"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/postalsys/tunctl/internal/tun"
)

// DefaultPollTimeout bounds how long Run waits before rechecking ctx.
const DefaultPollTimeout = 250 * time.Millisecond

// Source is the subset of *tun.Device the monitor needs.
type Source interface {
	Name() string
	Fd() int
	Flags() tun.Flags
	ReadPacket(maxLen int) ([]byte, error)
}

// Stats counts what a monitor has seen.
type Stats struct {
	Packets uint64
	Bytes   uint64
	Errors  uint64
}

// WaitFunc blocks for at most timeout until fd is readable.
type WaitFunc func(fd int, timeout time.Duration) (bool, error)

// Monitor reads packets from one Source.
type Monitor struct {
	src     Source
	maxLen  int
	timeout time.Duration
	logger  *zap.Logger
	wait    WaitFunc

	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollTimeout overrides DefaultPollTimeout.
func WithPollTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the logger used for read errors.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithWaiter replaces poll(2) as the readiness check.
func WithWaiter(w WaitFunc) Option {
	return func(m *Monitor) { m.wait = w }
}

// New returns a monitor reading at most maxLen bytes per packet.
func New(src Source, maxLen int, opts ...Option) *Monitor {
	m := &Monitor{
		src:     src,
		maxLen:  maxLen,
		timeout: DefaultPollTimeout,
		logger:  zap.NewNop(),
		wait:    waitReadable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks until ctx is done, the device is closed or reaches end of
// stream, or a read fails. Each packet is passed to fn, which must not
// retain it. Cancellation and closure return nil.
func (m *Monitor) Run(ctx context.Context, fn func(pkt []byte)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		fd := m.src.Fd()
		if fd < 0 {
			return nil
		}

		ready, err := m.wait(fd, m.timeout)
		if err != nil {
			if ctx.Err() != nil || m.src.Fd() < 0 {
				return nil
			}
			return err
		}
		if !ready {
			continue
		}

		pkt, err := m.src.ReadPacket(m.maxLen)
		switch {
		case tun.IsClosed(err):
			return nil
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			continue
		case err != nil:
			m.errors.Add(1)
			m.logger.Warn("packet read failed", zap.String("device", m.src.Name()), zap.Error(err))
			return err
		case len(pkt) == 0:
			m.logger.Debug("device reached end of stream", zap.String("device", m.src.Name()))
			return nil
		}

		m.packets.Add(1)
		m.bytes.Add(uint64(len(pkt)))
		fn(pkt)
	}
}

// Stats returns the counters so far.
func (m *Monitor) Stats() Stats {
	return Stats{
		Packets: m.packets.Load(),
		Bytes:   m.bytes.Load(),
		Errors:  m.errors.Load(),
	}
}

// MaxPacketSize is the read size needed for an MTU on a device with flags.
func MaxPacketSize(mtu int, flags tun.Flags) int {
	n := mtu
	if flags.IsTAP() {
		n += 14 + 4 // Ethernet header plus an 802.1Q tag
	}
	if !flags.Has(tun.NoPacketInfo) {
		n += 4
	}
	if flags.Has(tun.VnetHeader) {
		n += 10
	}
	return n
}
