// Package wizard provides an interactive setup wizard that writes a tunctl
// configuration file.
package wizard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/tunctl/internal/config"
	"github.com/postalsys/tunctl/internal/tun"
	"github.com/postalsys/tunctl/internal/wizard/prompt"
)

// ErrCancelled is returned when the user declines to overwrite an existing
// configuration.
var ErrCancelled = errors.New("setup cancelled")

var logLevels = []string{"debug", "info", "warn", "error"}

// Wizard handles the interactive setup process.
type Wizard struct {
	p           *prompt.Prompter
	defaultPath string

	// newInstaller is replaced in tests.
	newInstaller func(p *prompt.Prompter, configPath string, daemon config.DaemonConfig) *ServiceInstaller
}

// New creates a new setup wizard that offers defaultPath for the config file.
func New(p *prompt.Prompter, defaultPath string) *Wizard {
	return &Wizard{
		p:            p,
		defaultPath:  defaultPath,
		newInstaller: NewServiceInstaller,
	}
}

// Run executes the setup wizard and returns the generated config path.
func (w *Wizard) Run() (string, error) {
	w.p.PrintBanner("tunctl Setup Wizard", "TUN/TAP device configuration")

	out := w.p.Out()
	fmt.Fprintln(out, "This wizard will help you describe the devices the tunctl daemon manages.")
	fmt.Fprintln(out, "Press Enter to accept default values shown in [brackets].")
	fmt.Fprintln(out)

	configPath, err := w.askConfigPath()
	if err != nil {
		return "", err
	}

	devices, err := w.askDevices()
	if err != nil {
		return "", err
	}

	daemon, level, err := w.askDaemon()
	if err != nil {
		return "", err
	}

	cfg, err := buildConfig(devices, daemon, level)
	if err != nil {
		return "", err
	}
	if err := writeConfig(cfg, configPath); err != nil {
		return "", err
	}
	w.p.PrintSuccess(fmt.Sprintf("Configuration saved to %s", configPath))

	w.printSummary(cfg, configPath)

	if err := w.newInstaller(w.p, configPath, cfg.Daemon).Run(); err != nil {
		return "", err
	}
	return configPath, nil
}

func (w *Wizard) askConfigPath() (string, error) {
	w.p.PrintHeader("Configuration File", "Where should the configuration file be saved?")

	configPath, err := w.p.ReadLineValidated("Config file path", w.defaultPath,
		Chain(Required("config path"), YAMLExtension()))
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(configPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		create, err := w.p.Confirm(fmt.Sprintf("Directory %s does not exist. Create it?", dir), true)
		if err != nil {
			return "", err
		}
		if !create {
			return "", ErrCancelled
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		w.p.PrintSuccess(fmt.Sprintf("Created directory %s", dir))
	}

	if _, err := os.Stat(configPath); err == nil {
		overwrite, err := w.p.Confirm("Config file already exists. Overwrite?", false)
		if err != nil {
			return "", err
		}
		if !overwrite {
			return "", ErrCancelled
		}
	}

	return configPath, nil
}

func (w *Wizard) askDevices() ([]config.DeviceConfig, error) {
	var (
		devices []config.DeviceConfig
		names   []string
	)
	for {
		dev, err := w.askDevice(names)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
		names = append(names, dev.Name)
		w.p.PrintSuccess(fmt.Sprintf("Added device %s", dev.Name))

		more, err := w.p.Confirm("Add another device?", false)
		if err != nil {
			return nil, err
		}
		if !more {
			return devices, nil
		}
	}
}

func (w *Wizard) askDevice(taken []string) (config.DeviceConfig, error) {
	w.p.PrintHeader(fmt.Sprintf("Device %d", len(taken)+1), "Configure a virtual network interface.")

	var dev config.DeviceConfig

	name, err := w.p.ReadLineValidated("Interface name", fmt.Sprintf("tun%d", len(taken)),
		Chain(Required("interface name"), InterfaceName(taken)))
	if err != nil {
		return dev, err
	}
	dev.Name = name

	mode, err := w.p.Select("Device mode", []string{
		"tun (IP packets)",
		"tap (Ethernet frames)",
	}, 0)
	if err != nil {
		return dev, err
	}
	dev.Mode = "tun"
	if mode == 1 {
		dev.Mode = "tap"
	}

	pi, err := w.p.Confirm("Prefix every packet with the 4-byte packet information header?", false)
	if err != nil {
		return dev, err
	}
	if !pi {
		dev.Options = []string{"no_pi"}
	}

	defaultAddr := ""
	if len(taken) == 0 {
		defaultAddr = "10.200.200.1"
	}
	dev.Address, err = w.p.ReadLineValidated("IPv4 address (empty for none)", defaultAddr, Optional(IPv4()))
	if err != nil {
		return dev, err
	}
	if dev.Address != "" {
		dev.Netmask, err = w.p.ReadLineValidated("Netmask", "255.255.255.0", IPv4())
		if err != nil {
			return dev, err
		}
		if dev.Mode == "tun" {
			dev.Destination, err = w.p.ReadLineValidated("Peer address (empty for none)", "", Optional(IPv4()))
			if err != nil {
				return dev, err
			}
		}
	}

	if dev.Mode == "tap" {
		dev.HWAddr, err = w.p.ReadLineValidated("Hardware address (empty for kernel default)", "", Optional(MAC()))
		if err != nil {
			return dev, err
		}
	}

	mtu, err := w.p.ReadLineValidated("MTU", strconv.Itoa(tun.DefaultConfig().MTU), IntRange(68, 65535, "MTU"))
	if err != nil {
		return dev, err
	}
	dev.MTU, _ = strconv.Atoi(mtu)

	if dev.Up, err = w.p.Confirm("Bring the interface up?", true); err != nil {
		return dev, err
	}
	if dev.Persist, err = w.p.Confirm("Keep the interface when the daemon exits?", false); err != nil {
		return dev, err
	}
	if dev.Monitor, err = w.p.Confirm("Log a summary of every packet at debug level?", false); err != nil {
		return dev, err
	}
	return dev, nil
}

func (w *Wizard) askDaemon() (config.DaemonConfig, string, error) {
	w.p.PrintHeader("Daemon", "Configure how the daemon runs.")

	var daemon config.DaemonConfig

	watch, err := w.p.Confirm("Reapply the configuration when the file changes?", true)
	if err != nil {
		return daemon, "", err
	}
	daemon.Watch = watch

	idx, err := w.p.Select("Log level", logLevels, 1)
	if err != nil {
		return daemon, "", err
	}
	return daemon, logLevels[idx], nil
}

func buildConfig(devices []config.DeviceConfig, daemon config.DaemonConfig, level string) (*config.Config, error) {
	cfg, err := config.Parse(nil)
	if err != nil {
		return nil, err
	}
	cfg.Devices = devices
	cfg.Daemon.Watch = daemon.Watch
	cfg.Logging.Level = level

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generated config is invalid: %w", err)
	}
	return cfg, nil
}

func writeConfig(cfg *config.Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# tunctl configuration
# Generated by setup wizard
#
# To start the daemon:
#   sudo tunctl daemon start -c ` + path + `
#
# To install as a service:
#   sudo tunctl service install -c ` + path + `
#

`

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (w *Wizard) printSummary(cfg *config.Config, configPath string) {
	w.p.PrintHeader("Configuration Summary", "")

	out := w.p.Out()
	fmt.Fprintf(out, "  Config file:     %s\n", configPath)
	for _, d := range cfg.Devices {
		addr := "no address"
		if d.Address != "" {
			addr = d.Address + "/" + d.Netmask
			if d.Destination != "" {
				addr += " peer " + d.Destination
			}
		}
		fmt.Fprintf(out, "  %-16s %s, %s, mtu %d\n", d.Name+":", d.Mode, addr, d.MTU)
	}
	fmt.Fprintf(out, "  Watch config:    %t\n", cfg.Daemon.Watch)
	fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "To start the daemon manually:")
	fmt.Fprintf(out, "  sudo tunctl daemon start -c %s\n", configPath)
	fmt.Fprintln(out)
}
