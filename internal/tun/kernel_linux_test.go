//go:build linux

package tun

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func TestConstants(t *testing.T) {
	if DefaultPath != "/dev/net/tun" {
		t.Errorf("DefaultPath = %s, want /dev/net/tun", DefaultPath)
	}
	if ifnamsiz != unix.IFNAMSIZ {
		t.Errorf("ifnamsiz = %d, want %d", ifnamsiz, unix.IFNAMSIZ)
	}
	if afInet != unix.AF_INET {
		t.Errorf("afInet = %d, want %d", afInet, unix.AF_INET)
	}
	if arphrdEther != unix.ARPHRD_ETHER {
		t.Errorf("arphrdEther = %d, want %d", arphrdEther, unix.ARPHRD_ETHER)
	}
	if iffUp != unix.IFF_UP {
		t.Errorf("iffUp = %#x, want %#x", iffUp, unix.IFF_UP)
	}
}

func TestFlagValues(t *testing.T) {
	tests := []struct {
		flag Flags
		want int
	}{
		{TUN, unix.IFF_TUN},
		{TAP, unix.IFF_TAP},
		{NoPacketInfo, unix.IFF_NO_PI},
		{OneQueue, unix.IFF_ONE_QUEUE},
		{VnetHeader, unix.IFF_VNET_HDR},
		{TunExclusive, unix.IFF_TUN_EXCL},
	}
	for _, tt := range tests {
		if int(tt.flag) != tt.want {
			t.Errorf("%v = %#x, want %#x", tt.flag, uint16(tt.flag), tt.want)
		}
	}
}

func TestRequestCodes(t *testing.T) {
	for op := OpGetFlags; op <= OpSetMTU; op++ {
		if requestCodes[op] == 0 {
			t.Errorf("%v has no request code", op)
		}
	}
	if requestCodes[OpSetMTU] != unix.SIOCSIFMTU {
		t.Errorf("SIOCSIFMTU = %#x, want %#x", requestCodes[OpSetMTU], unix.SIOCSIFMTU)
	}
}

func TestCreate_NoRoot(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping non-root test when running as root")
	}

	dev, err := Create("", TUN)
	if err == nil {
		dev.Close()
		t.Skip("CAP_NET_ADMIN available without root")
	}
	if !errors.Is(err, ErrIO) {
		t.Errorf("Create() error = %v, want I/O error", err)
	}
}

func TestSystemKernel_RoundTrip(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	if _, err := os.Stat(DefaultPath); err != nil {
		t.Skipf("%s not available: %v", DefaultPath, err)
	}

	dev, err := Create("tunctltest0", TAP|NoPacketInfo)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer dev.Close()

	cfg := Config{
		Address:      "10.254.0.1",
		Netmask:      "255.255.255.0",
		HardwareAddr: []byte{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc},
		MTU:          1280,
		Up:           true,
	}
	if err := dev.Apply(cfg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	link, err := netlink.LinkByName("tunctltest0")
	if err != nil {
		t.Fatalf("LinkByName() error = %v", err)
	}
	attrs := link.Attrs()
	if attrs.MTU != 1280 {
		t.Errorf("netlink MTU = %d, want 1280", attrs.MTU)
	}
	if attrs.HardwareAddr.String() != "02:00:00:aa:bb:cc" {
		t.Errorf("netlink hwaddr = %s", attrs.HardwareAddr)
	}
	if attrs.Flags&net.FlagUp == 0 {
		t.Error("link should be administratively up")
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		t.Fatalf("AddrList() error = %v", err)
	}
	if len(addrs) != 1 || addrs[0].IP.String() != "10.254.0.1" {
		t.Errorf("netlink addrs = %v", addrs)
	}

	if got, _ := dev.Address(); got != "10.254.0.1" {
		t.Errorf("Address() = %q", got)
	}
	if got, _ := dev.Netmask(); got != "255.255.255.0" {
		t.Errorf("Netmask() = %q", got)
	}
}
