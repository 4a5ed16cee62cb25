package tun

import (
	"encoding/binary"
	"net"
	"net/netip"
	"strings"
)

const (
	// IFNAMSIZ, including the terminating NUL.
	ifnamsiz = 16
	// sizeof(struct ifreq) on Linux.
	ifReqSize = 40

	afInet      = 2 // AF_INET
	arphrdEther = 1 // ARPHRD_ETHER
	iffUp       = 0x1

	// HardwareAddrLen is ETH_ALEN.
	HardwareAddrLen = 6
)

// IfReq is the fixed-size interface request record shared by TUNSETIFF and
// the SIOC[GS]IF* requests: a NUL-padded name followed by a union whose
// interpretation depends on the request.
type IfReq struct {
	name [ifnamsiz]byte
	data [ifReqSize - ifnamsiz]byte
}

// NewIfReq returns a zeroed request carrying name. An empty name asks the
// kernel to choose one on TUNSETIFF.
func NewIfReq(name string) (*IfReq, error) {
	if len(name) >= ifnamsiz {
		return nil, invalidArgument("interface name too long")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return nil, invalidArgument("bad interface name")
	}
	req := &IfReq{}
	copy(req.name[:], name)
	return req, nil
}

// Name returns the name up to the first NUL.
func (r *IfReq) Name() string {
	for i, b := range r.name {
		if b == 0 {
			return string(r.name[:i])
		}
	}
	return string(r.name[:])
}

// SetName overwrites the name field, truncating to IFNAMSIZ-1 bytes.
func (r *IfReq) SetName(name string) {
	r.name = [ifnamsiz]byte{}
	if len(name) >= ifnamsiz {
		name = name[:ifnamsiz-1]
	}
	copy(r.name[:], name)
}

// Uint16 returns the union read as ifr_flags.
func (r *IfReq) Uint16() uint16 { return binary.NativeEndian.Uint16(r.data[:2]) }

// SetUint16 stores ifr_flags.
func (r *IfReq) SetUint16(v uint16) { binary.NativeEndian.PutUint16(r.data[:2], v) }

// Int32 returns the union read as ifr_mtu.
func (r *IfReq) Int32() int32 { return int32(binary.NativeEndian.Uint32(r.data[:4])) }

// SetInt32 stores ifr_mtu.
func (r *IfReq) SetInt32(v int32) { binary.NativeEndian.PutUint32(r.data[:4], uint32(v)) }

// Family returns sa_family of the sockaddr held in the union.
func (r *IfReq) Family() uint16 { return binary.NativeEndian.Uint16(r.data[:2]) }

// Inet4Addr decodes a sockaddr_in. ok is false when the family is not AF_INET.
func (r *IfReq) Inet4Addr() (addr netip.Addr, ok bool) {
	if r.Family() != afInet {
		return netip.Addr{}, false
	}
	// sin_family(2) sin_port(2) sin_addr(4)
	return netip.AddrFrom4([4]byte(r.data[4:8])), true
}

// SetInet4Addr stores addr as an AF_INET sockaddr_in.
func (r *IfReq) SetInet4Addr(addr netip.Addr) {
	r.data = [ifReqSize - ifnamsiz]byte{}
	binary.NativeEndian.PutUint16(r.data[:2], afInet)
	a := addr.As4()
	copy(r.data[4:8], a[:])
}

// HardwareAddr returns the first ETH_ALEN bytes of sa_data.
func (r *IfReq) HardwareAddr() net.HardwareAddr {
	mac := make(net.HardwareAddr, HardwareAddrLen)
	copy(mac, r.data[2:2+HardwareAddrLen])
	return mac
}

// SetHardwareAddr stores a link-layer sockaddr with the given family.
func (r *IfReq) SetHardwareAddr(family uint16, mac []byte) {
	r.data = [ifReqSize - ifnamsiz]byte{}
	binary.NativeEndian.PutUint16(r.data[:2], family)
	copy(r.data[2:2+HardwareAddrLen], mac)
}
