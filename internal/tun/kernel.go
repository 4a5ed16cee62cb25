package tun

import "io"

// Op names a control request against the kernel's interface table.
type Op int

const (
	OpGetFlags Op = iota
	OpSetFlags
	OpGetAddr
	OpSetAddr
	OpGetDstAddr
	OpSetDstAddr
	OpGetNetmask
	OpSetNetmask
	OpGetHwAddr
	OpSetHwAddr
	OpGetMTU
	OpSetMTU
)

var opNames = [...]string{
	OpGetFlags:   "SIOCGIFFLAGS",
	OpSetFlags:   "SIOCSIFFLAGS",
	OpGetAddr:    "SIOCGIFADDR",
	OpSetAddr:    "SIOCSIFADDR",
	OpGetDstAddr: "SIOCGIFDSTADDR",
	OpSetDstAddr: "SIOCSIFDSTADDR",
	OpGetNetmask: "SIOCGIFNETMASK",
	OpSetNetmask: "SIOCSIFNETMASK",
	OpGetHwAddr:  "SIOCGIFHWADDR",
	OpSetHwAddr:  "SIOCSIFHWADDR",
	OpGetMTU:     "SIOCGIFMTU",
	OpSetMTU:     "SIOCSIFMTU",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// IsSet reports whether the request mutates kernel state.
func (o Op) IsSet() bool { return o%2 == 1 }

// File is an open tunnel descriptor. Read and Write each issue exactly one
// syscall.
type File interface {
	io.ReadWriteCloser
	Fd() uintptr
}

// Socket is the short-lived datagram socket used as an ioctl handle.
type Socket interface {
	Ioctl(op Op, req *IfReq) error
	Close() error
}

// Kernel is the raw transaction primitive the device layer is built on.
type Kernel interface {
	// Open opens the tunnel control node read-write.
	Open(path string) (File, error)
	// SetInterface issues TUNSETIFF, writing the confirmed name back into req.
	SetInterface(f File, req *IfReq) error
	// SetPersist issues TUNSETPERSIST on the tunnel descriptor.
	SetPersist(f File, persist bool) error
	// Socket opens a fresh control socket.
	Socket() (Socket, error)
}

// SystemKernel returns the Kernel backed by the running operating system.
func SystemKernel() Kernel { return systemKernel{} }
