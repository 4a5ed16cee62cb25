package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/tunctl/internal/tun"
)

// DefaultPath is where the CLI and daemon look for the configuration.
const DefaultPath = "/etc/tunctl/config.yaml"

const (
	minMTU = 68
	maxMTU = 65535
)

// Config is the main configuration structure
type Config struct {
	Daemon  DaemonConfig   `yaml:"daemon"`
	Devices []DeviceConfig `yaml:"devices"`
	Logging LoggingConfig  `yaml:"logging"`
}

// DaemonConfig holds daemon-specific configuration
type DaemonConfig struct {
	PIDFile    string `yaml:"pid_file"`
	SocketPath string `yaml:"socket_path"`
	Watch      bool   `yaml:"watch"` // reload when the file changes
}

// DeviceConfig describes one managed TUN/TAP interface
type DeviceConfig struct {
	Name        string   `yaml:"name"`
	Mode        string   `yaml:"mode"`              // tun or tap
	Options     []string `yaml:"options,omitempty"` // no_pi, one_queue, vnet_hdr, exclusive
	Address     string   `yaml:"address,omitempty"`
	Netmask     string   `yaml:"netmask,omitempty"`
	Destination string   `yaml:"destination,omitempty"`
	HWAddr      string   `yaml:"hwaddr,omitempty"`
	MTU         int      `yaml:"mtu,omitempty"`
	Up          bool     `yaml:"up"`
	Persist     bool     `yaml:"persist"`
	Monitor     bool     `yaml:"monitor"` // log a summary of every packet at debug level
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = "/var/run/tunctl.pid"
	}
	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = "/var/run/tunctl.sock"
	}

	for i := range c.Devices {
		if c.Devices[i].Mode == "" {
			c.Devices[i].Mode = "tun"
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if err := d.validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

func (d DeviceConfig) validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := tun.NewIfReq(d.Name); err != nil {
		return fmt.Errorf("invalid name %q: %w", d.Name, err)
	}

	flags, err := tun.ParseFlags(d.Mode, d.Options)
	if err != nil {
		return err
	}

	for _, f := range []struct{ field, text string }{
		{"address", d.Address},
		{"netmask", d.Netmask},
		{"destination", d.Destination},
	} {
		if f.text == "" {
			continue
		}
		if addr, err := netip.ParseAddr(f.text); err != nil || !addr.Is4() {
			return fmt.Errorf("%s must be an IPv4 address, got %q", f.field, f.text)
		}
	}

	if d.HWAddr != "" {
		if !flags.IsTAP() {
			return fmt.Errorf("hwaddr requires mode tap")
		}
		if mac, err := net.ParseMAC(d.HWAddr); err != nil || len(mac) != tun.HardwareAddrLen {
			return fmt.Errorf("invalid hwaddr %q", d.HWAddr)
		}
	}

	if d.MTU != 0 && (d.MTU < minMTU || d.MTU > maxMTU) {
		return fmt.Errorf("mtu must be between %d and %d", minMTU, maxMTU)
	}
	return nil
}

// Device returns the named device entry.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Flags parses the mode and options.
func (d DeviceConfig) Flags() (tun.Flags, error) {
	return tun.ParseFlags(d.Mode, d.Options)
}

// TunConfig converts the entry into the form tun.Manager.Open takes.
func (d DeviceConfig) TunConfig() (tun.Config, error) {
	flags, err := d.Flags()
	if err != nil {
		return tun.Config{}, err
	}

	cfg := tun.Config{
		Name:        d.Name,
		Flags:       flags,
		Address:     d.Address,
		Netmask:     d.Netmask,
		Destination: d.Destination,
		MTU:         d.MTU,
		Up:          d.Up,
		Persist:     d.Persist,
	}
	if d.HWAddr != "" {
		mac, err := net.ParseMAC(d.HWAddr)
		if err != nil {
			return tun.Config{}, fmt.Errorf("invalid hwaddr %q: %w", d.HWAddr, err)
		}
		cfg.HardwareAddr = mac
	}
	return cfg, nil
}

// Equal reports whether two entries describe the same device.
func (d DeviceConfig) Equal(o DeviceConfig) bool {
	return d.Name == o.Name &&
		d.Mode == o.Mode &&
		slices.Equal(d.Options, o.Options) &&
		d.Address == o.Address &&
		d.Netmask == o.Netmask &&
		d.Destination == o.Destination &&
		d.HWAddr == o.HWAddr &&
		d.MTU == o.MTU &&
		d.Up == o.Up &&
		d.Persist == o.Persist &&
		d.Monitor == o.Monitor
}

// SameInterface reports whether o can be applied to a device created from d
// without recreating it.
func (d DeviceConfig) SameInterface(o DeviceConfig) bool {
	return d.Name == o.Name && d.Mode == o.Mode && slices.Equal(d.Options, o.Options)
}
