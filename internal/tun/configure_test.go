package tun_test

import (
	"bytes"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/postalsys/tunctl/internal/tun"
)

func TestAddress_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		set  func(*tun.Device, string) error
		get  func(*tun.Device) (string, error)
		addr string
	}{
		{"address", (*tun.Device).SetAddress, (*tun.Device).Address, "192.168.1.1"},
		{"destination", (*tun.Device).SetDestination, (*tun.Device).Destination, "192.168.1.2"},
		{"netmask", (*tun.Device).SetNetmask, (*tun.Device).Netmask, "255.255.255.252"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newManager(t)
			dev := create(t, m, "", tun.TUN)

			if tt.name == "netmask" {
				if err := dev.SetAddress("10.1.2.3"); err != nil {
					t.Fatalf("SetAddress() error = %v", err)
				}
			}
			if err := tt.set(dev, tt.addr); err != nil {
				t.Fatalf("set error = %v", err)
			}
			got, err := tt.get(dev)
			if err != nil {
				t.Fatalf("get error = %v", err)
			}
			if got != tt.addr {
				t.Errorf("got %q, want %q", got, tt.addr)
			}
		})
	}
}

func TestSetAddress_ResetsNetmask(t *testing.T) {
	m, _ := newManager(t)
	dev := create(t, m, "", tun.TUN)

	dev.SetAddress("10.0.0.1")
	dev.SetNetmask("255.255.255.0")
	dev.SetAddress("10.0.0.2")

	mask, err := dev.Netmask()
	if err != nil {
		t.Fatalf("Netmask() error = %v", err)
	}
	if mask != "255.0.0.0" {
		t.Errorf("Netmask() = %q, want the classful default 255.0.0.0", mask)
	}
}

func TestSetAddress_Invalid(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)

	for _, addr := range []string{"", "10.0.0", "300.1.1.1", "fe80::1", "host.example", "10.0.0.1/24"} {
		err := dev.SetAddress(addr)
		if !errors.Is(err, tun.ErrInvalidArgument) {
			t.Errorf("SetAddress(%q) error = %v, want invalid argument", addr, err)
		}
	}
	if k.SocketsOpened != 0 {
		t.Error("argument errors should not open a control socket")
	}
}

func TestAddress_Unset(t *testing.T) {
	m, _ := newManager(t)
	dev := create(t, m, "", tun.TUN)

	_, err := dev.Address()
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EADDRNOTAVAIL) {
		t.Errorf("Address() error = %v, want I/O error wrapping EADDRNOTAVAIL", err)
	}
}

func TestAddress_BadFamily(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	dev.SetAddress("10.0.0.1")
	k.CorruptReplies(dev.Name(), 10)

	_, err := dev.Address()
	if !errors.Is(err, tun.ErrInvalidState) {
		t.Errorf("Address() error = %v, want invalid state", err)
	}
	if err.Error() != "bad IPv4 address" {
		t.Errorf("Address() error = %q", err.Error())
	}
}

func TestHardwareAddress(t *testing.T) {
	m, _ := newManager(t)
	dev := create(t, m, "", tun.TAP)

	mac := net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	if err := dev.SetHardwareAddress(mac); err != nil {
		t.Fatalf("SetHardwareAddress() error = %v", err)
	}
	got, err := dev.HardwareAddress()
	if err != nil {
		t.Fatalf("HardwareAddress() error = %v", err)
	}
	if !bytes.Equal(got, mac) {
		t.Errorf("HardwareAddress() = %v, want %v", got, mac)
	}
}

func TestSetHardwareAddress_Length(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TAP)

	for _, mac := range [][]byte{nil, {1, 2, 3, 4, 5}, {1, 2, 3, 4, 5, 6, 7}} {
		err := dev.SetHardwareAddress(mac)
		if !errors.Is(err, tun.ErrInvalidArgument) || err.Error() != "bad MAC address" {
			t.Errorf("SetHardwareAddress(%d bytes) error = %v, want bad MAC address", len(mac), err)
		}
	}
	if k.SocketsOpened != 0 {
		t.Error("argument errors should not open a control socket")
	}
}

func TestHardwareAddress_TUN(t *testing.T) {
	m, _ := newManager(t)
	dev := create(t, m, "", tun.TUN)

	got, err := dev.HardwareAddress()
	if err != nil {
		t.Fatalf("HardwareAddress() error = %v", err)
	}
	if !bytes.Equal(got, make([]byte, 6)) {
		t.Errorf("TUN HardwareAddress() = %v, want zeros", got)
	}

	err = dev.SetHardwareAddress(net.HardwareAddr{2, 0, 0, 0, 0, 1})
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EINVAL) {
		t.Errorf("TUN SetHardwareAddress() error = %v, want I/O error wrapping EINVAL", err)
	}
}

func TestMTU(t *testing.T) {
	m, _ := newManager(t)
	dev := create(t, m, "", tun.TUN)

	mtu, err := dev.MTU()
	if err != nil || mtu != 1500 {
		t.Errorf("initial MTU() = %d, %v, want 1500", mtu, err)
	}
	if err := dev.SetMTU(1400); err != nil {
		t.Fatalf("SetMTU(1400) error = %v", err)
	}
	if mtu, _ := dev.MTU(); mtu != 1400 {
		t.Errorf("MTU() = %d, want 1400", mtu)
	}
}

func TestSetMTU_Invalid(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)

	for _, mtu := range []int{0, -100} {
		err := dev.SetMTU(mtu)
		if !errors.Is(err, tun.ErrInvalidArgument) || err.Error() != "bad MTU, should be > 0" {
			t.Errorf("SetMTU(%d) error = %v", mtu, err)
		}
	}
	if k.SocketsOpened != 0 {
		t.Error("argument errors should not open a control socket")
	}

	// Positive but below the link minimum is the kernel's call.
	if err := dev.SetMTU(10); !errors.Is(err, tun.ErrIO) {
		t.Errorf("SetMTU(10) error = %v, want I/O error", err)
	}
}

func TestUpDown(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)

	if up, _ := dev.IsUp(); up {
		t.Fatal("new interface should be down")
	}

	if err := dev.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if err := dev.Up(); err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if got := k.CountOps(tun.OpSetFlags); got != 1 {
		t.Errorf("SIOCSIFFLAGS issued %d times for two Up calls, want 1", got)
	}
	if up, _ := dev.IsUp(); !up {
		t.Error("IsUp() = false after Up")
	}

	if err := dev.Down(); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if err := dev.Down(); err != nil {
		t.Fatalf("second Down() error = %v", err)
	}
	if got := k.CountOps(tun.OpSetFlags); got != 2 {
		t.Errorf("SIOCSIFFLAGS issued %d times, want 2", got)
	}
	if up, _ := dev.IsUp(); up {
		t.Error("IsUp() = true after Down")
	}
}

func TestUp_PreservesOtherFlags(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)

	// Seed IFF_POINTOPOINT|IFF_NOARP through a raw socket.
	s, _ := k.Socket()
	req, _ := tun.NewIfReq(dev.Name())
	req.SetUint16(0x10 | 0x80)
	if err := s.Ioctl(tun.OpSetFlags, req); err != nil {
		t.Fatal(err)
	}
	s.Close()

	dev.Up()
	l, _ := k.Link(dev.Name())
	if l.IfFlags != 0x10|0x80|0x1 {
		t.Errorf("flags = %#x, want %#x", l.IfFlags, 0x10|0x80|0x1)
	}
}

func TestConfigure_IoctlFailure(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	k.OpErr[tun.OpSetMTU] = os.NewSyscallError("ioctl", syscall.EPERM)

	err := dev.SetMTU(1400)
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EPERM) {
		t.Errorf("SetMTU() error = %v, want I/O error wrapping EPERM", err)
	}
	var terr *tun.Error
	if !errors.As(err, &terr) || terr.Op != "failed to set the interface MTU" {
		t.Errorf("error op = %v", err)
	}
}

func TestConfigure_SocketFailure(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	k.SocketErr = os.NewSyscallError("socket", syscall.EMFILE)

	_, err := dev.MTU()
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EMFILE) {
		t.Errorf("MTU() error = %v, want I/O error wrapping EMFILE", err)
	}
}

func TestConfigure_SocketReleased(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TAP)
	k.OpErr[tun.OpGetNetmask] = os.NewSyscallError("ioctl", syscall.EIO)

	dev.Up()
	dev.SetAddress("10.9.0.1")
	dev.Address()
	dev.Netmask()
	dev.MTU()
	dev.HardwareAddress()
	dev.Down()

	if k.SocketsOpened != 7 {
		t.Errorf("sockets opened = %d, want one per operation", k.SocketsOpened)
	}
	if k.SocketsClosed != k.SocketsOpened {
		t.Errorf("sockets closed = %d, opened = %d", k.SocketsClosed, k.SocketsOpened)
	}
}

func TestApply_Order(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TAP)

	cfg := tun.Config{
		Address:      "172.16.0.1",
		Netmask:      "255.255.255.0",
		Destination:  "172.16.0.2",
		HardwareAddr: net.HardwareAddr{2, 0, 0, 0, 0, 9},
		MTU:          9000,
		Up:           true,
		Persist:      true,
	}
	if err := dev.Apply(cfg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := []tun.Op{
		tun.OpSetHwAddr, tun.OpSetMTU, tun.OpSetAddr, tun.OpSetNetmask,
		tun.OpSetDstAddr, tun.OpGetFlags, tun.OpSetFlags,
	}
	if len(k.Ops) != len(want) {
		t.Fatalf("ops = %v, want %v", k.Ops, want)
	}
	for i := range want {
		if k.Ops[i] != want[i] {
			t.Errorf("op[%d] = %v, want %v", i, k.Ops[i], want[i])
		}
	}

	l, _ := k.Link(dev.Name())
	if l.Netmask.String() != "255.255.255.0" {
		t.Errorf("netmask = %v, want 255.255.255.0", l.Netmask)
	}
	if !l.Persistent {
		t.Error("link should be persistent")
	}
	dev.SetPersistent(false)
}

func TestApply_SkipsEmpty(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)

	if err := dev.Apply(tun.Config{}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(k.Ops) != 1 || k.Ops[0] != tun.OpGetFlags {
		t.Errorf("ops = %v, want only the flags query", k.Ops)
	}
}
