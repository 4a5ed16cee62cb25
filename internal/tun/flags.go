package tun

import (
	"strings"
)

// Flags is the mode bitset passed to TUNSETIFF. Exactly one of TUN or TAP
// must be set; the remaining bits are options.
type Flags uint16

// Linux IFF_* values from <linux/if_tun.h>.
const (
	TUN          Flags = 0x0001
	TAP          Flags = 0x0002
	NoPacketInfo Flags = 0x1000
	OneQueue     Flags = 0x2000
	VnetHeader   Flags = 0x4000
	TunExclusive Flags = 0x8000
)

const modeMask = TUN | TAP

var optionNames = []struct {
	flag Flags
	name string
}{
	{NoPacketInfo, "no_pi"},
	{OneQueue, "one_queue"},
	{VnetHeader, "vnet_hdr"},
	{TunExclusive, "exclusive"},
}

// Validate checks that exactly one of TUN and TAP is set.
func (f Flags) Validate() error {
	if f&modeMask == 0 || f&modeMask == modeMask {
		return invalidArgument("bad flags: TUN or TAP expected")
	}
	return nil
}

// IsTAP reports whether the TAP mode bit is set.
func (f Flags) IsTAP() bool { return f&TAP != 0 }

// Has reports whether every bit of o is set in f.
func (f Flags) Has(o Flags) bool { return f&o == o }

func (f Flags) String() string {
	var parts []string
	switch f & modeMask {
	case TUN:
		parts = append(parts, "tun")
	case TAP:
		parts = append(parts, "tap")
	case modeMask:
		parts = append(parts, "tun", "tap")
	}
	for _, o := range optionNames {
		if f&o.flag != 0 {
			parts = append(parts, o.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFlags builds a Flags value from a mode ("tun" or "tap") and option
// names ("no_pi", "one_queue", "vnet_hdr", "exclusive").
func ParseFlags(mode string, options []string) (Flags, error) {
	var f Flags
	switch strings.ToLower(mode) {
	case "tun":
		f = TUN
	case "tap":
		f = TAP
	default:
		return 0, invalidArgument("bad mode %q: tun or tap expected", mode)
	}

	for _, opt := range options {
		found := false
		for _, o := range optionNames {
			if strings.EqualFold(opt, o.name) {
				f |= o.flag
				found = true
				break
			}
		}
		if !found {
			return 0, invalidArgument("unknown option %q", opt)
		}
	}
	return f, nil
}
