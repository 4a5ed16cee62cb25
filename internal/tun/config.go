package tun

import (
	"net"
)

// Config describes a device and the identity to give it.
type Config struct {
	Name         string           // Interface name, empty lets the kernel choose
	Flags        Flags            // TUN or TAP plus options
	Address      string           // IPv4 address
	Netmask      string           // IPv4 netmask
	Destination  string           // Point-to-point peer address
	HardwareAddr net.HardwareAddr // Ethernet address, TAP only
	MTU          int              // Maximum transmission unit, 0 keeps the kernel default
	Up           bool             // Administrative state
	Persist      bool             // Keep interface after the descriptor is closed
}

// DefaultConfig returns a default TUN configuration
func DefaultConfig() Config {
	return Config{
		Name:    "tun0",
		Flags:   TUN | NoPacketInfo,
		MTU:     1400,
		Address: "10.200.200.1",
		Netmask: "255.255.255.0",
	}
}

// Apply configures the device from cfg. Empty fields are left untouched;
// administrative state and persistence are always applied, persistence last.
// The address goes before the netmask since setting it resets the mask.
func (d *Device) Apply(cfg Config) error {
	if len(cfg.HardwareAddr) > 0 {
		if err := d.SetHardwareAddress(cfg.HardwareAddr); err != nil {
			return err
		}
	}
	if cfg.MTU > 0 {
		if err := d.SetMTU(cfg.MTU); err != nil {
			return err
		}
	}
	if cfg.Address != "" {
		if err := d.SetAddress(cfg.Address); err != nil {
			return err
		}
	}
	if cfg.Netmask != "" {
		if err := d.SetNetmask(cfg.Netmask); err != nil {
			return err
		}
	}
	if cfg.Destination != "" {
		if err := d.SetDestination(cfg.Destination); err != nil {
			return err
		}
	}

	if cfg.Up {
		if err := d.Up(); err != nil {
			return err
		}
	} else if err := d.Down(); err != nil {
		return err
	}

	return d.SetPersistent(cfg.Persist)
}
