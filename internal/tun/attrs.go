package tun

import (
	"net"
	"net/netip"
	"strconv"
)

// Attribute names understood by Get and Set.
const (
	AttrName    = "name"
	AttrAddr    = "addr"
	AttrDstAddr = "dstaddr"
	AttrHwAddr  = "hwaddr"
	AttrNetmask = "netmask"
	AttrMTU     = "mtu"
)

// Attributes lists every readable attribute; all but name are writable.
var Attributes = []string{AttrName, AttrAddr, AttrDstAddr, AttrHwAddr, AttrNetmask, AttrMTU}

// Get reads a named attribute. Unknown keys fall back to the method table:
// the bound method is returned when one exists under that name, otherwise
// nil. Neither case is an error.
func (d *Device) Get(key string) (any, error) {
	switch key {
	case AttrName:
		return d.Name(), nil
	case AttrAddr:
		return d.Address()
	case AttrDstAddr:
		return d.Destination()
	case AttrHwAddr:
		return d.HardwareAddress()
	case AttrNetmask:
		return d.Netmask()
	case AttrMTU:
		return d.MTU()
	}
	if m, ok := d.methods()[key]; ok {
		return m, nil
	}
	return nil, nil
}

// Set writes a named attribute. The name attribute and unknown keys are
// ignored.
func (d *Device) Set(key string, value any) error {
	switch key {
	case AttrAddr, AttrDstAddr, AttrNetmask:
		text, err := addrText(value)
		if err != nil {
			return err
		}
		switch key {
		case AttrAddr:
			return d.SetAddress(text)
		case AttrDstAddr:
			return d.SetDestination(text)
		default:
			return d.SetNetmask(text)
		}
	case AttrHwAddr:
		switch v := value.(type) {
		case net.HardwareAddr:
			return d.SetHardwareAddress(v)
		case []byte:
			return d.SetHardwareAddress(v)
		case string:
			return d.SetHardwareAddress([]byte(v))
		}
		return invalidArgument("bad MAC address")
	case AttrMTU:
		switch v := value.(type) {
		case int:
			return d.SetMTU(v)
		case int32:
			return d.SetMTU(int(v))
		case int64:
			return d.SetMTU(int(v))
		case float64:
			if v == float64(int(v)) {
				return d.SetMTU(int(v))
			}
		}
		return invalidArgument("bad MTU, should be > 0")
	}
	return nil
}

func (d *Device) methods() map[string]any {
	return map[string]any{
		"read":    d.ReadPacket,
		"write":   d.WritePacket,
		"close":   d.Close,
		"fileno":  d.Fd,
		"up":      d.Up,
		"down":    d.Down,
		"persist": d.SetPersistent,
	}
}

func addrText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case netip.Addr:
		return v.String(), nil
	case net.IP:
		if v4 := v.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", invalidArgument("bad IPv4 address")
}

// ParseValue converts the text form of a writable attribute into the value
// Set expects. Hardware addresses use colon notation.
func ParseValue(key, text string) (any, error) {
	switch key {
	case AttrAddr, AttrDstAddr, AttrNetmask:
		if _, err := parseIPv4(text); err != nil {
			return nil, err
		}
		return text, nil
	case AttrHwAddr:
		mac, err := net.ParseMAC(text)
		if err != nil || len(mac) != HardwareAddrLen {
			return nil, invalidArgument("bad MAC address")
		}
		return mac, nil
	case AttrMTU:
		mtu, err := strconv.Atoi(text)
		if err != nil || mtu <= 0 {
			return nil, invalidArgument("bad MTU, should be > 0")
		}
		return mtu, nil
	case AttrName:
		return nil, invalidArgument("attribute %q is read-only", key)
	}
	return nil, invalidArgument("unknown attribute %q", key)
}

// FormatValue renders an attribute value returned by Get as text.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case net.HardwareAddr:
		return v.String()
	case []byte:
		return net.HardwareAddr(v).String()
	}
	return "<method>"
}
