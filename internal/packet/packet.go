// Package packet decodes frames read from a TUN or TAP descriptor into
// one-line summaries for logging and the dump command.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/postalsys/tunctl/internal/tun"
)

const (
	// InfoSize is the struct tun_pi prefix present unless IFF_NO_PI is set.
	InfoSize = 4
	// VnetHeaderSize is the default struct virtio_net_hdr length.
	VnetHeaderSize = 10
)

// ErrTruncated is returned when a frame is shorter than its headers claim.
var ErrTruncated = errors.New("truncated packet")

// Summary describes one decoded frame. Fields that do not apply are zero.
type Summary struct {
	Length int // bytes read from the descriptor

	// Set for TAP frames.
	HwSrc string
	HwDst string

	Network   string // ipv4, ipv6, arp or ethertype in hex
	Src       string
	Dst       string
	Transport string // tcp, udp, icmp, icmpv6 or protocol number
	SrcPort   uint16
	DstPort   uint16
	Info      string // tcp flags, icmp type, arp op
	Payload   int    // transport payload bytes
}

// Decode parses frame as read from a device created with flags.
func Decode(frame []byte, flags tun.Flags) (Summary, error) {
	s := Summary{Length: len(frame)}
	b := frame

	var proto tcpip.NetworkProtocolNumber
	if !flags.Has(tun.NoPacketInfo) {
		if len(b) < InfoSize {
			return s, fmt.Errorf("packet info: %w", ErrTruncated)
		}
		proto = tcpip.NetworkProtocolNumber(binary.BigEndian.Uint16(b[2:4]))
		b = b[InfoSize:]
	}
	if flags.Has(tun.VnetHeader) {
		if len(b) < VnetHeaderSize {
			return s, fmt.Errorf("vnet header: %w", ErrTruncated)
		}
		b = b[VnetHeaderSize:]
	}

	if flags.IsTAP() {
		if len(b) < header.EthernetMinimumSize {
			return s, fmt.Errorf("ethernet: %w", ErrTruncated)
		}
		eth := header.Ethernet(b)
		s.HwSrc = eth.SourceAddress().String()
		s.HwDst = eth.DestinationAddress().String()
		proto = eth.Type()
		b = b[header.EthernetMinimumSize:]
	} else if proto == 0 {
		// Without packet info a TUN frame is a bare IP packet.
		switch header.IPVersion(b) {
		case header.IPv4Version:
			proto = header.IPv4ProtocolNumber
		case header.IPv6Version:
			proto = header.IPv6ProtocolNumber
		}
	}

	switch proto {
	case header.IPv4ProtocolNumber:
		return s, s.decodeIPv4(b)
	case header.IPv6ProtocolNumber:
		return s, s.decodeIPv6(b)
	case header.ARPProtocolNumber:
		return s, s.decodeARP(b)
	case 0:
		return s, fmt.Errorf("unknown IP version %d", header.IPVersion(b))
	default:
		s.Network = fmt.Sprintf("0x%04x", uint16(proto))
		return s, nil
	}
}

func (s *Summary) decodeIPv4(b []byte) error {
	s.Network = "ipv4"
	ip := header.IPv4(b)
	if !ip.IsValid(len(b)) {
		return fmt.Errorf("ipv4: %w", ErrTruncated)
	}
	s.Src = ip.SourceAddress().String()
	s.Dst = ip.DestinationAddress().String()
	if ip.FragmentOffset() != 0 {
		s.Transport = protocolName(ip.TransportProtocol())
		s.Info = "fragment"
		return nil
	}
	return s.decodeTransport(ip.TransportProtocol(), ip.Payload())
}

func (s *Summary) decodeIPv6(b []byte) error {
	s.Network = "ipv6"
	ip := header.IPv6(b)
	if !ip.IsValid(len(b)) {
		return fmt.Errorf("ipv6: %w", ErrTruncated)
	}
	s.Src = ip.SourceAddress().String()
	s.Dst = ip.DestinationAddress().String()
	// Extension headers are not followed.
	return s.decodeTransport(ip.TransportProtocol(), ip.Payload())
}

func (s *Summary) decodeARP(b []byte) error {
	s.Network = "arp"
	arp := header.ARP(b)
	if !arp.IsValid() {
		return fmt.Errorf("arp: %w", ErrTruncated)
	}
	s.Src = addrString(arp.ProtocolAddressSender())
	s.Dst = addrString(arp.ProtocolAddressTarget())
	switch arp.Op() {
	case header.ARPRequest:
		s.Info = "request"
	case header.ARPReply:
		s.Info = "reply"
	default:
		s.Info = fmt.Sprintf("op %d", arp.Op())
	}
	return nil
}

func (s *Summary) decodeTransport(proto tcpip.TransportProtocolNumber, b []byte) error {
	s.Transport = protocolName(proto)

	switch proto {
	case header.TCPProtocolNumber:
		if len(b) < header.TCPMinimumSize {
			return fmt.Errorf("tcp: %w", ErrTruncated)
		}
		tcp := header.TCP(b)
		s.SrcPort, s.DstPort = tcp.SourcePort(), tcp.DestinationPort()
		// TCPFlags pads unset flags with spaces.
		s.Info = strings.ReplaceAll(tcp.Flags().String(), " ", "")
		if off := int(tcp.DataOffset()); off >= header.TCPMinimumSize && off <= len(b) {
			s.Payload = len(b) - off
		}
	case header.UDPProtocolNumber:
		if len(b) < header.UDPMinimumSize {
			return fmt.Errorf("udp: %w", ErrTruncated)
		}
		udp := header.UDP(b)
		s.SrcPort, s.DstPort = udp.SourcePort(), udp.DestinationPort()
		s.Payload = len(b) - header.UDPMinimumSize
	case header.ICMPv4ProtocolNumber:
		if len(b) < header.ICMPv4MinimumSize {
			return fmt.Errorf("icmp: %w", ErrTruncated)
		}
		icmp := header.ICMPv4(b)
		s.Info = icmpv4Name(icmp.Type(), icmp.Code())
	case header.ICMPv6ProtocolNumber:
		if len(b) < header.ICMPv6MinimumSize {
			return fmt.Errorf("icmpv6: %w", ErrTruncated)
		}
		icmp := header.ICMPv6(b)
		s.Info = icmpv6Name(icmp.Type(), icmp.Code())
	default:
		s.Payload = len(b)
	}
	return nil
}

func protocolName(p tcpip.TransportProtocolNumber) string {
	switch p {
	case header.TCPProtocolNumber:
		return "tcp"
	case header.UDPProtocolNumber:
		return "udp"
	case header.ICMPv4ProtocolNumber:
		return "icmp"
	case header.ICMPv6ProtocolNumber:
		return "icmpv6"
	}
	return fmt.Sprintf("proto %d", p)
}

func icmpv4Name(t header.ICMPv4Type, code header.ICMPv4Code) string {
	switch t {
	case header.ICMPv4Echo:
		return "echo request"
	case header.ICMPv4EchoReply:
		return "echo reply"
	case header.ICMPv4DstUnreachable:
		return fmt.Sprintf("unreachable code %d", code)
	case header.ICMPv4TimeExceeded:
		return "time exceeded"
	}
	return fmt.Sprintf("type %d code %d", t, code)
}

func icmpv6Name(t header.ICMPv6Type, code header.ICMPv6Code) string {
	switch t {
	case header.ICMPv6EchoRequest:
		return "echo request"
	case header.ICMPv6EchoReply:
		return "echo reply"
	case header.ICMPv6NeighborSolicit:
		return "neighbor solicitation"
	case header.ICMPv6NeighborAdvert:
		return "neighbor advertisement"
	case header.ICMPv6RouterSolicit:
		return "router solicitation"
	case header.ICMPv6RouterAdvert:
		return "router advertisement"
	}
	return fmt.Sprintf("type %d code %d", t, code)
}

func addrString(b []byte) string {
	if addr, ok := netip.AddrFromSlice(b); ok {
		return addr.String()
	}
	return fmt.Sprintf("%x", b)
}

// String renders the summary on one line, tcpdump style.
func (s Summary) String() string {
	var sb strings.Builder
	if s.HwSrc != "" {
		fmt.Fprintf(&sb, "%s > %s ", s.HwSrc, s.HwDst)
	}
	sb.WriteString(s.Network)

	src, dst := s.Src, s.Dst
	if s.SrcPort != 0 || s.DstPort != 0 {
		src = joinPort(src, s.SrcPort)
		dst = joinPort(dst, s.DstPort)
	}
	if src != "" {
		fmt.Fprintf(&sb, " %s > %s", src, dst)
	}
	if s.Transport != "" {
		sb.WriteString(" " + s.Transport)
	}
	if s.Info != "" {
		fmt.Fprintf(&sb, " [%s]", s.Info)
	}
	fmt.Fprintf(&sb, " len %d", s.Length)
	return sb.String()
}

func joinPort(addr string, port uint16) string {
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%d", addr, port)
	}
	return fmt.Sprintf("%s:%d", addr, port)
}
