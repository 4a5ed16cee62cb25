// Package tun creates Linux TUN/TAP interfaces, configures them through the
// SIOC[GS]IF* ioctl protocol and moves raw packets over the device
// descriptor.
//
// Every operation is a direct blocking syscall. A Device is not safe for
// concurrent use; callers that need multiplexed I/O poll the descriptor
// returned by Fd.
package tun

import (
	"io"
	"runtime"
	"sync/atomic"

	"go.uber.org/multierr"
)

// DefaultPath is the generic tunnel control node.
const DefaultPath = "/dev/net/tun"

// Manager creates devices against a Kernel.
type Manager struct {
	kernel Kernel
	path   string
}

// Option configures a Manager.
type Option func(*Manager)

// WithKernel replaces the system kernel, typically with a fake in tests.
func WithKernel(k Kernel) Option {
	return func(m *Manager) { m.kernel = k }
}

// WithPath overrides the control node path.
func WithPath(path string) Option {
	return func(m *Manager) { m.path = path }
}

// NewManager returns a Manager using the system kernel and DefaultPath
// unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		kernel: SystemKernel(),
		path:   DefaultPath,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create creates a device with the system kernel. See Manager.Create.
func Create(name string, flags Flags) (*Device, error) {
	return NewManager().Create(name, flags)
}

// Create opens the control node and issues TUNSETIFF. An empty name lets the
// kernel choose one; a name of an existing persistent device attaches to it.
// The new interface is down and has no address.
func (m *Manager) Create(name string, flags Flags) (*Device, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	req, err := NewIfReq(name)
	if err != nil {
		return nil, err
	}

	file, err := m.kernel.Open(m.path)
	if err != nil {
		return nil, &Error{Op: "failed to open", Path: m.path, Kind: KindIO, Err: err}
	}

	req.SetUint16(uint16(flags))
	if err := m.kernel.SetInterface(file, req); err != nil {
		err = ioError("failed to create TUN/TAP device", err)
		return nil, multierr.Append(err, file.Close())
	}

	d := &Device{
		fd:     &descriptor{file: file},
		name:   req.Name(),
		flags:  flags,
		kernel: m.kernel,
	}
	d.cleanup = runtime.AddCleanup(d, func(fd *descriptor) { fd.release() }, d.fd)
	return d, nil
}

// Open creates a device and applies cfg to it. If the configuration fails
// the device is closed before returning.
func (m *Manager) Open(cfg Config) (*Device, error) {
	d, err := m.Create(cfg.Name, cfg.Flags)
	if err != nil {
		return nil, err
	}
	if err := d.Apply(cfg); err != nil {
		return nil, multierr.Append(err, d.Close())
	}
	return d, nil
}

// descriptor owns the tunnel file and releases it exactly once.
type descriptor struct {
	file   File
	closed atomic.Bool
}

func (h *descriptor) release() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.file.Close()
}

// Device is an open TUN or TAP interface.
type Device struct {
	fd      *descriptor
	name    string
	flags   Flags
	kernel  Kernel
	cleanup runtime.Cleanup
}

// Name returns the interface name confirmed by the kernel at creation.
func (d *Device) Name() string { return d.name }

// Flags returns the mode flags the device was created with.
func (d *Device) Flags() Flags { return d.flags }

// Closed reports whether Close has been called.
func (d *Device) Closed() bool { return d.fd.closed.Load() }

// Close releases the descriptor. Calling it again is a no-op.
func (d *Device) Close() error {
	d.cleanup.Stop()
	if err := d.fd.release(); err != nil {
		return ioError("failed to close TUN/TAP device", err)
	}
	return nil
}

// Fd returns the raw descriptor for use with an external poller, or -1 once
// the device is closed.
func (d *Device) Fd() int {
	if d.Closed() {
		return -1
	}
	return int(d.fd.file.Fd())
}

// ReadPacket performs one read of at most maxLen bytes. A maxLen of zero
// returns nil without touching the descriptor; a closed device still fails. The kernel delivers one packet
// per read, so maxLen should cover the MTU plus any packet header.
func (d *Device) ReadPacket(maxLen int) ([]byte, error) {
	if maxLen < 0 {
		return nil, invalidArgument("invalid size: %d", maxLen)
	}
	if d.Closed() {
		return nil, ioError("failed to read packet", ErrClosed)
	}
	if maxLen == 0 {
		return nil, nil
	}

	buf := make([]byte, maxLen)
	n, err := d.fd.file.Read(buf)
	if err == io.EOF {
		return buf[:0], nil
	}
	if err != nil {
		return nil, ioError("failed to read packet", err)
	}
	return buf[:n], nil
}

// WritePacket performs one write of p and returns the count reported by the
// kernel, which may be short. It never retries.
func (d *Device) WritePacket(p []byte) (int, error) {
	if d.Closed() {
		return 0, ioError("failed to write packet", ErrClosed)
	}
	n, err := d.fd.file.Write(p)
	if err != nil {
		return n, ioError("failed to write packet", err)
	}
	return n, nil
}

// Read implements io.Reader with a single read per call.
func (d *Device) Read(p []byte) (int, error) {
	if d.Closed() {
		return 0, ioError("failed to read packet", ErrClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := d.fd.file.Read(p)
	if err != nil && err != io.EOF {
		return n, ioError("failed to read packet", err)
	}
	return n, err
}

// Write implements io.Writer with a single write per call.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.WritePacket(p)
	if err == nil && n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, err
}
