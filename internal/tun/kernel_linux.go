//go:build linux

package tun

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

var requestCodes = [...]uint{
	OpGetFlags:   unix.SIOCGIFFLAGS,
	OpSetFlags:   unix.SIOCSIFFLAGS,
	OpGetAddr:    unix.SIOCGIFADDR,
	OpSetAddr:    unix.SIOCSIFADDR,
	OpGetDstAddr: unix.SIOCGIFDSTADDR,
	OpSetDstAddr: unix.SIOCSIFDSTADDR,
	OpGetNetmask: unix.SIOCGIFNETMASK,
	OpSetNetmask: unix.SIOCSIFNETMASK,
	OpGetHwAddr:  unix.SIOCGIFHWADDR,
	OpSetHwAddr:  unix.SIOCSIFHWADDR,
	OpGetMTU:     unix.SIOCGIFMTU,
	OpSetMTU:     unix.SIOCSIFMTU,
}

type systemKernel struct{}

func (systemKernel) Open(path string) (File, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, os.NewSyscallError("open", err)
		}
		return &tunFile{fd: fd}, nil
	}
}

func (systemKernel) SetInterface(f File, req *IfReq) error {
	return ioctlPtr(int(f.Fd()), unix.TUNSETIFF, unsafe.Pointer(req))
}

func (systemKernel) SetPersist(f File, persist bool) error {
	value := 0
	if persist {
		value = 1
	}
	for {
		err := unix.IoctlSetInt(int(f.Fd()), unix.TUNSETPERSIST, value)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("ioctl", err)
		}
		return nil
	}
}

func (systemKernel) Socket() (Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return &controlSocket{fd: fd}, nil
}

// controlSocket is an AF_INET datagram socket used only as an ioctl handle.
type controlSocket struct {
	fd int
}

func (s *controlSocket) Ioctl(op Op, req *IfReq) error {
	if op < 0 || int(op) >= len(requestCodes) {
		return os.NewSyscallError("ioctl", unix.EINVAL)
	}
	return ioctlPtr(s.fd, requestCodes[op], unsafe.Pointer(req))
}

func (s *controlSocket) Close() error {
	return unix.Close(s.fd)
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return os.NewSyscallError("ioctl", errno)
		}
		return nil
	}
}

// tunFile is a raw blocking descriptor. It bypasses os.File so that a write
// is a single write(2) whose count is reported as-is.
type tunFile struct {
	fd int
}

func (f *tunFile) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(f.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("read", err)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

func (f *tunFile) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(f.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("write", err)
		}
		return n, nil
	}
}

func (f *tunFile) Close() error {
	if err := unix.Close(f.fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (f *tunFile) Fd() uintptr { return uintptr(f.fd) }
