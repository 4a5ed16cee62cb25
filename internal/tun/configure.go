package tun

import (
	"net"
	"net/netip"

	"go.uber.org/multierr"
)

// transact runs fn against a fresh control socket and a zeroed request
// carrying the device name. The socket never outlives the call.
func (d *Device) transact(fn func(s Socket, req *IfReq) error) (err error) {
	if d.Closed() {
		return ioError("failed to configure interface "+d.name, ErrClosed)
	}
	req, err := NewIfReq(d.name)
	if err != nil {
		return err
	}
	s, err := d.kernel.Socket()
	if err != nil {
		return ioError("failed to open control socket", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(s))
	return fn(s, req)
}

// Up sets IFF_UP unless it is already set.
func (d *Device) Up() error { return d.setUp(true) }

// Down clears IFF_UP unless it is already clear.
func (d *Device) Down() error { return d.setUp(false) }

func (d *Device) setUp(up bool) error {
	return d.transact(func(s Socket, req *IfReq) error {
		if err := s.Ioctl(OpGetFlags, req); err != nil {
			return ioError("failed to get the interface flags", err)
		}
		flags := req.Uint16()
		if (flags&iffUp != 0) == up {
			return nil
		}
		if up {
			flags |= iffUp
		} else {
			flags &^= iffUp
		}
		req.SetUint16(flags)
		if err := s.Ioctl(OpSetFlags, req); err != nil {
			return ioError("failed to set the interface flags", err)
		}
		return nil
	})
}

// IsUp reports whether IFF_UP is set.
func (d *Device) IsUp() (bool, error) {
	var up bool
	err := d.transact(func(s Socket, req *IfReq) error {
		if err := s.Ioctl(OpGetFlags, req); err != nil {
			return ioError("failed to get the interface flags", err)
		}
		up = req.Uint16()&iffUp != 0
		return nil
	})
	return up, err
}

// Address returns the interface IPv4 address in dotted-quad form.
func (d *Device) Address() (string, error) {
	return d.getInet4(OpGetAddr, "address")
}

// SetAddress sets the interface IPv4 address.
func (d *Device) SetAddress(addr string) error {
	return d.setInet4(OpSetAddr, "address", addr)
}

// Destination returns the point-to-point peer address.
func (d *Device) Destination() (string, error) {
	return d.getInet4(OpGetDstAddr, "destination address")
}

// SetDestination sets the point-to-point peer address.
func (d *Device) SetDestination(addr string) error {
	return d.setInet4(OpSetDstAddr, "destination address", addr)
}

// Netmask returns the interface IPv4 netmask.
func (d *Device) Netmask() (string, error) {
	return d.getInet4(OpGetNetmask, "netmask")
}

// SetNetmask sets the interface IPv4 netmask.
func (d *Device) SetNetmask(mask string) error {
	return d.setInet4(OpSetNetmask, "netmask", mask)
}

func (d *Device) getInet4(op Op, what string) (string, error) {
	var addr netip.Addr
	err := d.transact(func(s Socket, req *IfReq) error {
		if err := s.Ioctl(op, req); err != nil {
			return ioError("failed to get the interface "+what, err)
		}
		a, ok := req.Inet4Addr()
		if !ok {
			return invalidState("bad IPv4 address")
		}
		addr = a
		return nil
	})
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func (d *Device) setInet4(op Op, what, text string) error {
	addr, err := parseIPv4(text)
	if err != nil {
		return err
	}
	return d.transact(func(s Socket, req *IfReq) error {
		req.SetInet4Addr(addr)
		if err := s.Ioctl(op, req); err != nil {
			return ioError("failed to set the interface "+what, err)
		}
		return nil
	})
}

func parseIPv4(text string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(text)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, invalidArgument("bad IPv4 address")
	}
	return addr, nil
}

// HardwareAddress returns the link-layer address. TUN devices report zeros.
func (d *Device) HardwareAddress() (net.HardwareAddr, error) {
	var mac net.HardwareAddr
	err := d.transact(func(s Socket, req *IfReq) error {
		if err := s.Ioctl(OpGetHwAddr, req); err != nil {
			return ioError("failed to get the interface hw address", err)
		}
		mac = req.HardwareAddr()
		return nil
	})
	return mac, err
}

// SetHardwareAddress sets the Ethernet address; mac must be exactly six
// bytes.
func (d *Device) SetHardwareAddress(mac []byte) error {
	if len(mac) != HardwareAddrLen {
		return invalidArgument("bad MAC address")
	}
	return d.transact(func(s Socket, req *IfReq) error {
		req.SetHardwareAddr(arphrdEther, mac)
		if err := s.Ioctl(OpSetHwAddr, req); err != nil {
			return ioError("failed to set the interface hw address", err)
		}
		return nil
	})
}

// MTU returns the interface MTU.
func (d *Device) MTU() (int, error) {
	var mtu int
	err := d.transact(func(s Socket, req *IfReq) error {
		if err := s.Ioctl(OpGetMTU, req); err != nil {
			return ioError("failed to get the interface MTU", err)
		}
		mtu = int(req.Int32())
		return nil
	})
	return mtu, err
}

// SetMTU sets the interface MTU.
func (d *Device) SetMTU(mtu int) error {
	if mtu <= 0 || mtu > 1<<31-1 {
		return invalidArgument("bad MTU, should be > 0")
	}
	return d.transact(func(s Socket, req *IfReq) error {
		req.SetInt32(int32(mtu))
		if err := s.Ioctl(OpSetMTU, req); err != nil {
			return ioError("failed to set the interface MTU", err)
		}
		return nil
	})
}

// SetPersistent toggles TUNSETPERSIST on the device descriptor. A persistent
// interface survives Close until persistence is cleared again.
func (d *Device) SetPersistent(persist bool) error {
	op := "failed to make the TUN/TAP device persistent"
	if !persist {
		op = "failed to make the TUN/TAP device non-persistent"
	}
	if d.Closed() {
		return ioError(op, ErrClosed)
	}
	if err := d.kernel.SetPersist(d.fd.file, persist); err != nil {
		return ioError(op, err)
	}
	return nil
}
