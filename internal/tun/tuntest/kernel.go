// Package tuntest provides an in-memory tun.Kernel for tests.
package tuntest

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/postalsys/tunctl/internal/tun"
)

const minMTU = 68

// Link is the kernel-side state of one interface.
type Link struct {
	Name        string
	Flags       tun.Flags
	IfFlags     uint16
	Addr        netip.Addr
	DstAddr     netip.Addr
	Netmask     netip.Addr
	HwAddr      net.HardwareAddr
	MTU         int
	Persistent  bool
	attachedTo  *File
	replyFamily uint16
}

// Kernel models the TUN/TAP driver and the interface table.
type Kernel struct {
	mu      sync.Mutex
	links   map[string]*Link
	counter map[tun.Flags]int

	// OpenErr and SocketErr make Open and Socket fail.
	OpenErr   error
	SocketErr error
	// SetIfErr makes TUNSETIFF fail.
	SetIfErr error
	// CloseErr is returned by the first Close of every descriptor, after
	// the descriptor is released.
	CloseErr error
	// OpErr makes individual control requests fail.
	OpErr map[tun.Op]error

	// Ops records every control request in order.
	Ops []tun.Op
	// Files records every descriptor handed out by Open.
	Files []*File
	// SocketsOpened and SocketsClosed count control sockets.
	SocketsOpened int
	SocketsClosed int
}

// NewKernel returns an empty fake kernel.
func NewKernel() *Kernel {
	return &Kernel{
		links:   make(map[string]*Link),
		counter: make(map[tun.Flags]int),
		OpErr:   make(map[tun.Op]error),
	}
}

// Link returns a copy of the named link's state.
func (k *Kernel) Link(name string) (Link, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.links[name]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// Links returns the names of all links.
func (k *Kernel) Links() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := make([]string, 0, len(k.links))
	for name := range k.links {
		names = append(names, name)
	}
	return names
}

// CorruptReplies makes get requests on name answer with the given address
// family instead of AF_INET.
func (k *Kernel) CorruptReplies(name string, family uint16) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.links[name]; ok {
		l.replyFamily = family
	}
}

// CountOps returns how many times op was issued.
func (k *Kernel) CountOps(op tun.Op) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, o := range k.Ops {
		if o == op {
			n++
		}
	}
	return n
}

func (k *Kernel) Open(path string) (tun.File, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.OpenErr != nil {
		return nil, k.OpenErr
	}
	f := &File{kernel: k, fd: uintptr(100 + len(k.Files))}
	k.Files = append(k.Files, f)
	return f, nil
}

func (k *Kernel) SetInterface(f tun.File, req *tun.IfReq) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.SetIfErr != nil {
		return k.SetIfErr
	}
	file, ok := f.(*File)
	if !ok {
		return os.NewSyscallError("ioctl", syscall.EBADF)
	}
	if file.link != nil {
		return os.NewSyscallError("ioctl", syscall.EINVAL)
	}

	flags := tun.Flags(req.Uint16())
	mode := flags & (tun.TUN | tun.TAP)
	name := req.Name()
	if name == "" {
		prefix := "tun"
		if mode == tun.TAP {
			prefix = "tap"
		}
		for {
			name = fmt.Sprintf("%s%d", prefix, k.counter[mode])
			k.counter[mode]++
			if _, exists := k.links[name]; !exists {
				break
			}
		}
	}

	l, exists := k.links[name]
	if exists {
		if l.attachedTo != nil {
			return os.NewSyscallError("ioctl", syscall.EBUSY)
		}
		if l.Flags&(tun.TUN|tun.TAP) != mode {
			return os.NewSyscallError("ioctl", syscall.EINVAL)
		}
	} else {
		l = &Link{Name: name, Flags: flags, MTU: 1500, HwAddr: make(net.HardwareAddr, 6)}
		if mode == tun.TAP {
			l.HwAddr = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, byte(len(k.links))}
		}
		k.links[name] = l
	}
	l.attachedTo = file
	file.link = l
	req.SetName(name)
	return nil
}

func (k *Kernel) SetPersist(f tun.File, persist bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	file, ok := f.(*File)
	if !ok || file.link == nil {
		return os.NewSyscallError("ioctl", syscall.EBADF)
	}
	file.link.Persistent = persist
	return nil
}

func (k *Kernel) Socket() (tun.Socket, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.SocketErr != nil {
		return nil, k.SocketErr
	}
	k.SocketsOpened++
	return &socket{kernel: k}, nil
}

type socket struct {
	kernel *Kernel
	closed bool
}

func (s *socket) Close() error {
	s.kernel.mu.Lock()
	defer s.kernel.mu.Unlock()
	if s.closed {
		return os.NewSyscallError("close", syscall.EBADF)
	}
	s.closed = true
	s.kernel.SocketsClosed++
	return nil
}

func (s *socket) Ioctl(op tun.Op, req *tun.IfReq) error {
	k := s.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Ops = append(k.Ops, op)

	if err := k.OpErr[op]; err != nil {
		return err
	}
	l, ok := k.links[req.Name()]
	if !ok {
		return os.NewSyscallError("ioctl", syscall.ENODEV)
	}

	switch op {
	case tun.OpGetFlags:
		req.SetUint16(l.IfFlags)
	case tun.OpSetFlags:
		l.IfFlags = req.Uint16()
	case tun.OpGetAddr, tun.OpGetDstAddr, tun.OpGetNetmask:
		addr := map[tun.Op]netip.Addr{
			tun.OpGetAddr:    l.Addr,
			tun.OpGetDstAddr: l.DstAddr,
			tun.OpGetNetmask: l.Netmask,
		}[op]
		if !addr.IsValid() {
			return os.NewSyscallError("ioctl", syscall.EADDRNOTAVAIL)
		}
		req.SetInet4Addr(addr)
		if l.replyFamily != 0 {
			req.SetHardwareAddr(l.replyFamily, nil)
		}
	case tun.OpSetAddr, tun.OpSetDstAddr, tun.OpSetNetmask:
		addr, ok := req.Inet4Addr()
		if !ok {
			return os.NewSyscallError("ioctl", syscall.EINVAL)
		}
		switch op {
		case tun.OpSetAddr:
			l.Addr = addr
			l.Netmask = classfulMask(addr)
		case tun.OpSetDstAddr:
			l.DstAddr = addr
		default:
			l.Netmask = addr
		}
	case tun.OpGetHwAddr:
		req.SetHardwareAddr(1, l.HwAddr)
	case tun.OpSetHwAddr:
		if l.Flags&tun.TAP == 0 {
			return os.NewSyscallError("ioctl", syscall.EINVAL)
		}
		l.HwAddr = req.HardwareAddr()
	case tun.OpGetMTU:
		req.SetInt32(int32(l.MTU))
	case tun.OpSetMTU:
		mtu := int(req.Int32())
		if mtu < minMTU {
			return os.NewSyscallError("ioctl", syscall.EINVAL)
		}
		l.MTU = mtu
	default:
		return os.NewSyscallError("ioctl", syscall.ENOTTY)
	}
	return nil
}

func classfulMask(addr netip.Addr) netip.Addr {
	b := addr.As4()
	switch {
	case b[0] < 128:
		return netip.AddrFrom4([4]byte{255, 0, 0, 0})
	case b[0] < 192:
		return netip.AddrFrom4([4]byte{255, 255, 0, 0})
	default:
		return netip.AddrFrom4([4]byte{255, 255, 255, 0})
	}
}

// File is a fake tunnel descriptor. Packets queued with Inject are returned
// by Read one at a time; writes are recorded.
type File struct {
	kernel *Kernel
	fd     uintptr
	link   *Link

	mu      sync.Mutex
	inbound [][]byte
	Written [][]byte
	Reads   int
	Closes  int

	// ShortWrite, when positive, caps the count every Write reports.
	ShortWrite int
	// ReadErr and WriteErr make Read and Write fail.
	ReadErr  error
	WriteErr error
	// EOF makes Read report end of stream once the queue is empty.
	EOF bool
}

// Inject queues a packet for the next Read.
func (f *File) Inject(pkt []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, append([]byte(nil), pkt...))
}

func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	if len(f.inbound) == 0 {
		if f.EOF {
			return 0, io.EOF
		}
		return 0, os.NewSyscallError("read", syscall.EAGAIN)
	}
	pkt := f.inbound[0]
	f.inbound = f.inbound[1:]
	// The driver truncates a packet that does not fit.
	return copy(p, pkt), nil
}

func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	n := len(p)
	if f.ShortWrite > 0 && f.ShortWrite < n {
		n = f.ShortWrite
	}
	f.Written = append(f.Written, append([]byte(nil), p[:n]...))
	return n, nil
}

func (f *File) Close() error {
	f.mu.Lock()
	f.Closes++
	closes := f.Closes
	f.mu.Unlock()
	if closes > 1 {
		return os.NewSyscallError("close", syscall.EBADF)
	}

	k := f.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if l := f.link; l != nil {
		l.attachedTo = nil
		if !l.Persistent {
			delete(k.links, l.Name)
		}
	}
	return k.CloseErr
}

func (f *File) Fd() uintptr { return f.fd }

// Readable reports whether a Read would return without blocking.
func (f *File) Readable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound) > 0 || f.EOF || f.ReadErr != nil
}

// Wait reports readiness of a fake descriptor in place of poll(2). It
// sleeps briefly when nothing is queued.
func (k *Kernel) Wait(fd int, timeout time.Duration) (bool, error) {
	k.mu.Lock()
	var file *File
	for _, f := range k.Files {
		if int(f.fd) == fd {
			file = f
		}
	}
	k.mu.Unlock()

	if file == nil {
		return false, os.NewSyscallError("poll", syscall.EBADF)
	}
	if file.Readable() {
		return true, nil
	}
	time.Sleep(min(timeout, time.Millisecond))
	return false, nil
}
