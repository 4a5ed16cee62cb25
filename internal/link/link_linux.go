//go:build linux

package link

import (
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/vishvananda/netlink"
)

// List returns every TUN/TAP link, sorted by name.
func List() ([]Info, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var infos []Info
	for _, l := range links {
		tt, ok := l.(*netlink.Tuntap)
		if !ok {
			continue
		}
		addrs, err := netlink.AddrList(l, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", tt.Name, err)
		}
		infos = append(infos, fromTuntap(tt, addrs))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Lookup returns the named TUN/TAP link.
func Lookup(name string) (*Info, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get link %s: %w", name, err)
	}
	tt, ok := l.(*netlink.Tuntap)
	if !ok {
		return nil, fmt.Errorf("%s is a %s link: %w", name, l.Type(), ErrNotFound)
	}
	addrs, err := netlink.AddrList(l, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %s: %w", name, err)
	}
	info := fromTuntap(tt, addrs)
	return &info, nil
}

func fromTuntap(tt *netlink.Tuntap, addrs []netlink.Addr) Info {
	attrs := tt.Attrs()
	info := Info{
		Name:       attrs.Name,
		Index:      attrs.Index,
		Mode:       "tun",
		Persistent: !tt.NonPersist,
		Owner:      tt.Owner,
		Group:      tt.Group,
		MTU:        attrs.MTU,
		Up:         attrs.Flags&net.FlagUp != 0,
		OperState:  attrs.OperState.String(),
	}
	if tt.Mode == netlink.TUNTAP_MODE_TAP {
		info.Mode = "tap"
	}
	// The kernel only reports these two feature bits for an existing link.
	if tt.Flags&netlink.TUNTAP_NO_PI != 0 {
		info.Options = append(info.Options, "no_pi")
	}
	if tt.Flags&netlink.TUNTAP_VNET_HDR != 0 {
		info.Options = append(info.Options, "vnet_hdr")
	}
	if len(attrs.HardwareAddr) > 0 {
		info.HWAddr = attrs.HardwareAddr.String()
	}
	for _, a := range addrs {
		if a.IPNet != nil {
			info.Addrs = append(info.Addrs, a.IPNet.String())
		}
	}
	return info
}
