package monitor

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/postalsys/tunctl/internal/tun"
	"github.com/postalsys/tunctl/internal/tun/tuntest"
)

func newDevice(t *testing.T, flags tun.Flags) (*tun.Device, *tuntest.File) {
	t.Helper()
	k := tuntest.NewKernel()
	dev, err := tun.NewManager(tun.WithKernel(k)).Create("", flags)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev, k.Files[0]
}

// fakeWait reports readiness from the fake descriptor instead of poll(2).
func fakeWait(f *tuntest.File) WaitFunc {
	return func(int, time.Duration) (bool, error) {
		if f.Readable() {
			return true, nil
		}
		time.Sleep(time.Millisecond)
		return false, nil
	}
}

func TestRun_DeliversPackets(t *testing.T) {
	dev, file := newDevice(t, tun.TUN|tun.NoPacketInfo)
	file.Inject([]byte{0x45, 1, 2, 3})
	file.Inject([]byte{0x45, 4, 5})
	file.EOF = true

	m := New(dev, 1500)
	m.wait = fakeWait(file)

	var got [][]byte
	err := m.Run(context.Background(), func(pkt []byte) {
		got = append(got, append([]byte(nil), pkt...))
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d packets, want 2", len(got))
	}
	if len(got[0]) != 4 || len(got[1]) != 3 {
		t.Errorf("packet lengths = %d, %d", len(got[0]), len(got[1]))
	}

	stats := m.Stats()
	if stats.Packets != 2 || stats.Bytes != 7 || stats.Errors != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRun_Truncates(t *testing.T) {
	dev, file := newDevice(t, tun.TUN)
	file.Inject(make([]byte, 100))
	file.EOF = true

	m := New(dev, 10)
	m.wait = fakeWait(file)

	var n int
	if err := m.Run(context.Background(), func(pkt []byte) { n = len(pkt) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 10 {
		t.Errorf("packet length = %d, want 10", n)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	dev, file := newDevice(t, tun.TUN)
	m := New(dev, 1500)
	m.wait = fakeWait(file)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, func([]byte) {}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StopsOnClose(t *testing.T) {
	dev, file := newDevice(t, tun.TAP)
	m := New(dev, 1500)
	m.wait = fakeWait(file)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), func([]byte) {}) }()

	time.Sleep(10 * time.Millisecond)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_ClosedBeforeStart(t *testing.T) {
	dev, _ := newDevice(t, tun.TUN)
	dev.Close()

	m := New(dev, 1500)
	m.wait = func(int, time.Duration) (bool, error) {
		t.Error("wait called on a closed device")
		return false, nil
	}
	if err := m.Run(context.Background(), func([]byte) {}); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestRun_ReadError(t *testing.T) {
	dev, file := newDevice(t, tun.TUN)
	file.ReadErr = os.NewSyscallError("read", syscall.EIO)

	m := New(dev, 1500)
	m.wait = fakeWait(file)

	err := m.Run(context.Background(), func([]byte) {})
	if !errors.Is(err, tun.ErrIO) || !errors.Is(err, syscall.EIO) {
		t.Errorf("Run() error = %v, want EIO", err)
	}
	if got := m.Stats().Errors; got != 1 {
		t.Errorf("Stats().Errors = %d, want 1", got)
	}
}

func TestRun_SpuriousWakeup(t *testing.T) {
	dev, file := newDevice(t, tun.TUN)

	// The first wakeup finds an empty queue and the read gets EAGAIN.
	calls := 0
	m := New(dev, 1500)
	m.wait = func(int, time.Duration) (bool, error) {
		calls++
		if calls == 2 {
			file.Inject([]byte{1})
			file.EOF = true
		}
		return true, nil
	}

	var packets int
	if err := m.Run(context.Background(), func([]byte) { packets++ }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if packets != 1 {
		t.Errorf("packets = %d, want 1", packets)
	}
}

func TestRun_WaitError(t *testing.T) {
	dev, _ := newDevice(t, tun.TUN)
	wantErr := errors.New("poll failed")

	m := New(dev, 1500)
	m.wait = func(int, time.Duration) (bool, error) { return false, wantErr }

	if err := m.Run(context.Background(), func([]byte) {}); !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestWithWaiter(t *testing.T) {
	k := tuntest.NewKernel()
	dev, err := tun.NewManager(tun.WithKernel(k)).Create("", tun.TUN)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer dev.Close()
	k.Files[0].Inject([]byte{0x45})
	k.Files[0].EOF = true

	m := New(dev, 1500, WithWaiter(k.Wait), WithPollTimeout(5*time.Millisecond))
	if err := m.Run(context.Background(), func([]byte) {}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := m.Stats().Packets; got != 1 {
		t.Errorf("Stats().Packets = %d, want 1", got)
	}
}

func TestMaxPacketSize(t *testing.T) {
	tests := []struct {
		flags tun.Flags
		want  int
	}{
		{tun.TUN | tun.NoPacketInfo, 1500},
		{tun.TUN, 1504},
		{tun.TAP | tun.NoPacketInfo, 1518},
		{tun.TAP, 1522},
		{tun.TUN | tun.NoPacketInfo | tun.VnetHeader, 1510},
	}
	for _, tt := range tests {
		if got := MaxPacketSize(1500, tt.flags); got != tt.want {
			t.Errorf("MaxPacketSize(1500, %v) = %d, want %d", tt.flags, got, tt.want)
		}
	}
}
