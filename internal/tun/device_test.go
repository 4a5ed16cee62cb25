package tun_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/postalsys/tunctl/internal/tun"
	"github.com/postalsys/tunctl/internal/tun/tuntest"
)

func newManager(t *testing.T) (*tun.Manager, *tuntest.Kernel) {
	t.Helper()
	k := tuntest.NewKernel()
	return tun.NewManager(tun.WithKernel(k)), k
}

func create(t *testing.T, m *tun.Manager, name string, flags tun.Flags) *tun.Device {
	t.Helper()
	dev, err := m.Create(name, flags)
	if err != nil {
		t.Fatalf("Create(%q, %v) error = %v", name, flags, err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestCreate_Modes(t *testing.T) {
	tests := []struct {
		name     string
		flags    tun.Flags
		wantName string
		wantErr  bool
	}{
		{"tun", tun.TUN, "tun0", false},
		{"tap", tun.TAP, "tap0", false},
		{"tun no_pi", tun.TUN | tun.NoPacketInfo, "tun0", false},
		{"both", tun.TUN | tun.TAP, "", true},
		{"neither", tun.NoPacketInfo, "", true},
		{"zero", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, k := newManager(t)
			dev, err := m.Create("", tt.flags)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, tun.ErrInvalidArgument) {
					t.Errorf("error = %v, want invalid argument", err)
				}
				if len(k.Files) != 0 {
					t.Error("control node should not be opened for bad flags")
				}
				return
			}
			defer dev.Close()
			if dev.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", dev.Name(), tt.wantName)
			}
			if dev.Flags() != tt.flags {
				t.Errorf("Flags() = %v, want %v", dev.Flags(), tt.flags)
			}
		})
	}
}

func TestCreate_Named(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "mytun", tun.TUN)

	if dev.Name() != "mytun" {
		t.Errorf("Name() = %q, want mytun", dev.Name())
	}
	if _, ok := k.Link("mytun"); !ok {
		t.Error("link mytun should exist")
	}
}

func TestCreate_NameTooLong(t *testing.T) {
	m, k := newManager(t)

	_, err := m.Create("tun0123456789abc", tun.TUN)
	if err == nil || err.Error() != "interface name too long" {
		t.Fatalf("Create() error = %v, want interface name too long", err)
	}
	if len(k.Files) != 0 {
		t.Error("control node should not be opened for a long name")
	}

	dev := create(t, m, "tun0123456789ab", tun.TUN)
	if dev.Name() != "tun0123456789ab" {
		t.Errorf("Name() = %q", dev.Name())
	}
}

func TestCreate_OpenFailure(t *testing.T) {
	m, k := newManager(t)
	k.OpenErr = os.NewSyscallError("open", syscall.EACCES)

	_, err := m.Create("", tun.TUN)
	if !errors.Is(err, tun.ErrIO) {
		t.Fatalf("Create() error = %v, want I/O error", err)
	}
	if !errors.Is(err, syscall.EACCES) {
		t.Errorf("error should wrap EACCES, got %v", err)
	}
}

func TestCreate_SetInterfaceFailureClosesFile(t *testing.T) {
	m, k := newManager(t)
	k.SetIfErr = os.NewSyscallError("ioctl", syscall.EPERM)

	_, err := m.Create("", tun.TUN)
	if !errors.Is(err, tun.ErrIO) {
		t.Fatalf("Create() error = %v, want I/O error", err)
	}
	if len(k.Files) != 1 || k.Files[0].Closes != 1 {
		t.Error("control node should be closed after a failed TUNSETIFF")
	}
}

func TestCreate_SetInterfaceFailureReportsCloseError(t *testing.T) {
	m, k := newManager(t)
	k.SetIfErr = os.NewSyscallError("ioctl", syscall.EPERM)
	k.CloseErr = os.NewSyscallError("close", syscall.EIO)

	_, err := m.Create("", tun.TUN)
	if !errors.Is(err, syscall.EPERM) {
		t.Errorf("error should keep the TUNSETIFF cause, got %v", err)
	}
	if !errors.Is(err, syscall.EIO) {
		t.Errorf("error should carry the close failure, got %v", err)
	}
	if !errors.Is(err, tun.ErrIO) {
		t.Errorf("error = %v, want I/O error", err)
	}
}

func TestCreate_Busy(t *testing.T) {
	m, _ := newManager(t)
	create(t, m, "tun7", tun.TUN)

	_, err := m.Create("tun7", tun.TUN)
	if !errors.Is(err, syscall.EBUSY) {
		t.Errorf("second Create() error = %v, want EBUSY", err)
	}
}

func TestDevice_CloseIdempotent(t *testing.T) {
	m, k := newManager(t)
	dev, err := m.Create("", tun.TUN)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if got := k.Files[0].Closes; got != 1 {
		t.Errorf("descriptor closed %d times, want 1", got)
	}
	if !dev.Closed() {
		t.Error("Closed() = false after Close")
	}
	if dev.Fd() != -1 {
		t.Errorf("Fd() = %d after Close, want -1", dev.Fd())
	}
	if _, ok := k.Link("tun0"); ok {
		t.Error("non-persistent link should vanish on close")
	}
}

func TestDevice_Fd(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)

	if dev.Fd() != int(k.Files[0].Fd()) {
		t.Errorf("Fd() = %d, want %d", dev.Fd(), k.Files[0].Fd())
	}
}

func TestDevice_ClosedOperations(t *testing.T) {
	m, k := newManager(t)
	dev, err := m.Create("", tun.TAP)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	dev.Close()
	socketsBefore := k.SocketsOpened

	checks := map[string]error{}
	_, checks["read"] = dev.ReadPacket(64)
	_, checks["read zero"] = dev.ReadPacket(0)
	_, checks["read empty buffer"] = dev.Read(nil)
	_, checks["write"] = dev.WritePacket([]byte{1})
	checks["up"] = dev.Up()
	_, checks["addr"] = dev.Address()
	checks["mtu"] = dev.SetMTU(1400)
	checks["persist"] = dev.SetPersistent(true)

	for op, err := range checks {
		if !errors.Is(err, tun.ErrIO) || !tun.IsClosed(err) {
			t.Errorf("%s on closed device error = %v, want closed I/O error", op, err)
		}
	}
	if k.SocketsOpened != socketsBefore {
		t.Error("no control socket should be opened for a closed device")
	}
}

func TestReadPacket(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN|tun.NoPacketInfo)
	f := k.Files[0]

	pkt := []byte{0x45, 0x00, 0x00, 0x14, 1, 2, 3, 4}
	f.Inject(pkt)

	got, err := dev.ReadPacket(1500)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !bytes.Equal(got, pkt) {
		t.Errorf("ReadPacket() = %v, want %v", got, pkt)
	}
}

func TestReadPacket_Truncates(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	k.Files[0].Inject([]byte{1, 2, 3, 4, 5, 6})

	got, err := dev.ReadPacket(4)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("ReadPacket(4) = %v", got)
	}
}

func TestReadPacket_Sizes(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	f := k.Files[0]

	got, err := dev.ReadPacket(0)
	if err != nil || len(got) != 0 {
		t.Errorf("ReadPacket(0) = %v, %v, want empty, nil", got, err)
	}
	if f.Reads != 0 {
		t.Errorf("ReadPacket(0) touched the descriptor %d times", f.Reads)
	}

	for _, size := range []int{-1, -4096} {
		_, err = dev.ReadPacket(size)
		if !errors.Is(err, tun.ErrInvalidArgument) {
			t.Errorf("ReadPacket(%d) error = %v, want invalid argument", size, err)
		}
	}
	if f.Reads != 0 {
		t.Error("negative size should not touch the descriptor")
	}
}

func TestReadPacket_EndOfStream(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	k.Files[0].EOF = true

	got, err := dev.ReadPacket(100)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ReadPacket() at end of stream = %v, want empty non-nil", got)
	}
}

func TestReadPacket_WouldBlock(t *testing.T) {
	m, _ := newManager(t)
	dev := create(t, m, "", tun.TUN)

	_, err := dev.ReadPacket(100)
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EAGAIN) {
		t.Errorf("ReadPacket() error = %v, want I/O error wrapping EAGAIN", err)
	}
}

func TestWritePacket(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TAP)
	f := k.Files[0]

	frame := bytes.Repeat([]byte{0xab}, 60)
	n, err := dev.WritePacket(frame)
	if err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	if n != len(frame) {
		t.Errorf("WritePacket() = %d, want %d", n, len(frame))
	}
	if len(f.Written) != 1 || !bytes.Equal(f.Written[0], frame) {
		t.Error("frame should be written in a single write")
	}
}

func TestWritePacket_ShortCount(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	f := k.Files[0]
	f.ShortWrite = 10

	n, err := dev.WritePacket(make([]byte, 40))
	if err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	if n != 10 {
		t.Errorf("WritePacket() = %d, want short count 10", n)
	}
	if len(f.Written) != 1 {
		t.Errorf("writes = %d, want 1 (no retry)", len(f.Written))
	}

	n, err = dev.Write(make([]byte, 40))
	if n != 10 || err != io.ErrShortWrite {
		t.Errorf("Write() = %d, %v, want 10, io.ErrShortWrite", n, err)
	}
}

func TestWritePacket_Error(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	k.Files[0].WriteErr = os.NewSyscallError("write", syscall.EIO)

	_, err := dev.WritePacket([]byte{1})
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EIO) {
		t.Errorf("WritePacket() error = %v, want I/O error wrapping EIO", err)
	}
}

func TestDevice_ReaderWriter(t *testing.T) {
	m, k := newManager(t)
	dev := create(t, m, "", tun.TUN)
	f := k.Files[0]

	var _ io.ReadWriteCloser = dev

	n, err := dev.Read(nil)
	if n != 0 || err != nil || f.Reads != 0 {
		t.Errorf("Read(nil) = %d, %v, reads %d", n, err, f.Reads)
	}

	f.Inject([]byte{9, 8, 7})
	buf := make([]byte, 16)
	n, err = dev.Read(buf)
	if err != nil || n != 3 {
		t.Errorf("Read() = %d, %v, want 3, nil", n, err)
	}

	f.EOF = true
	if _, err := dev.Read(buf); err != io.EOF {
		t.Errorf("Read() at end of stream error = %v, want io.EOF", err)
	}
}

func TestPersistentDeviceReattach(t *testing.T) {
	m, k := newManager(t)
	dev, err := m.Create("ptun", tun.TUN)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := dev.SetPersistent(true); err != nil {
		t.Fatalf("SetPersistent(true) error = %v", err)
	}
	dev.Close()

	if _, ok := k.Link("ptun"); !ok {
		t.Fatal("persistent link should survive close")
	}

	dev = create(t, m, "ptun", tun.TUN)
	if err := dev.SetPersistent(false); err != nil {
		t.Fatalf("SetPersistent(false) error = %v", err)
	}
	dev.Close()
	if _, ok := k.Link("ptun"); ok {
		t.Error("link should vanish once persistence is cleared and closed")
	}
}

func TestManagerOpen(t *testing.T) {
	m, k := newManager(t)
	cfg := tun.DefaultConfig()
	cfg.Up = true

	dev, err := m.Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer dev.Close()

	l, _ := k.Link("tun0")
	if l.MTU != 1400 {
		t.Errorf("MTU = %d, want 1400", l.MTU)
	}
	if l.Addr.String() != "10.200.200.1" || l.Netmask.String() != "255.255.255.0" {
		t.Errorf("addr = %v/%v", l.Addr, l.Netmask)
	}
	if l.IfFlags&0x1 == 0 {
		t.Error("interface should be up")
	}
}

func TestManagerOpen_FailureClosesDevice(t *testing.T) {
	m, k := newManager(t)
	cfg := tun.Config{Name: "tun3", Flags: tun.TUN, Address: "not-an-ip"}

	_, err := m.Open(cfg)
	if !errors.Is(err, tun.ErrInvalidArgument) {
		t.Fatalf("Open() error = %v, want invalid argument", err)
	}
	if k.Files[0].Closes != 1 {
		t.Error("device should be closed after a failed configuration")
	}
	if _, ok := k.Link("tun3"); ok {
		t.Error("link should not outlive a failed Open")
	}
}
