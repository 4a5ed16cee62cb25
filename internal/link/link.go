// Package link reports TUN/TAP interfaces as the kernel's link table sees
// them, independent of any descriptor this process holds.
package link

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Lookup for a missing or non-TUN/TAP link.
var ErrNotFound = errors.New("no such TUN/TAP link")

// Info describes one TUN/TAP link.
type Info struct {
	Name       string   `json:"name"`
	Index      int      `json:"index"`
	Mode       string   `json:"mode"`
	Options    []string `json:"options,omitempty"`
	Persistent bool     `json:"persistent"`
	Owner      uint32   `json:"owner"`
	Group      uint32   `json:"group"`
	MTU        int      `json:"mtu"`
	HWAddr     string   `json:"hwaddr,omitempty"`
	Up         bool     `json:"up"`
	OperState  string   `json:"oper_state"`
	Addrs      []string `json:"addrs,omitempty"`
}

func (i Info) String() string {
	state := "down"
	if i.Up {
		state = "up"
	}
	s := fmt.Sprintf("%s: %s %s mtu %d", i.Name, i.Mode, state, i.MTU)
	if len(i.Options) > 0 {
		s += " " + strings.Join(i.Options, ",")
	}
	if i.Persistent {
		s += " persist"
	}
	if i.HWAddr != "" {
		s += " ether " + i.HWAddr
	}
	if len(i.Addrs) > 0 {
		s += " inet " + strings.Join(i.Addrs, ",")
	}
	return s
}
