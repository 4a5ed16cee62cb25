// Package service installs the tunctl daemon as a systemd unit.
// Creating TUN/TAP devices needs CAP_NET_ADMIN, so only system-level units
// are supported.
package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/postalsys/tunctl/internal/config"
)

// DefaultUnitDir is where system units are installed.
const DefaultUnitDir = "/etc/systemd/system"

var errUnsupported = errors.New("service management is only supported on Linux")

// Config holds configuration for installing the service.
type Config struct {
	// Name is the systemd service name
	Name string

	// Description is the service description
	Description string

	// ConfigPath is the absolute path to the config file
	ConfigPath string

	// ExecPath is the absolute path to the tunctl binary
	ExecPath string

	// RuntimePaths are the directories the daemon writes its PID file and
	// socket into
	RuntimePaths []string
}

// DefaultConfig returns a service configuration for the daemon described by
// cfg, loaded from configPath.
func DefaultConfig(configPath string, cfg config.DaemonConfig) Config {
	absPath, _ := filepath.Abs(configPath)

	var dirs []string
	for _, p := range []string{cfg.PIDFile, cfg.SocketPath} {
		if p == "" {
			continue
		}
		if dir := filepath.Dir(p); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}

	return Config{
		Name:         "tunctl",
		Description:  "tunctl TUN/TAP device daemon",
		ConfigPath:   absPath,
		RuntimePaths: dirs,
	}
}

// Executable returns the resolved path of the running binary.
func Executable() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return execPath, nil
}

// IsRoot returns true if the current process is running as root.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// Manager writes unit files into UnitDir and drives systemctl through Run.
type Manager struct {
	UnitDir string
	Run     func(name string, args ...string) (string, error)
	Out     io.Writer
}

// NewManager returns a Manager for the system unit directory.
func NewManager() *Manager {
	return &Manager{
		UnitDir: DefaultUnitDir,
		Run:     runCommand,
		Out:     os.Stdout,
	}
}

func (m *Manager) unitPath(name string) string {
	return filepath.Join(m.UnitDir, name+".service")
}

// Install writes the unit, then enables and starts it.
func (m *Manager) Install(cfg Config) error {
	if !supported {
		return errUnsupported
	}

	unitPath := m.unitPath(cfg.Name)
	if _, err := os.Stat(unitPath); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, unitPath)
	}

	if err := os.WriteFile(unitPath, []byte(Unit(cfg)), 0644); err != nil {
		return fmt.Errorf("failed to write systemd unit file: %w", err)
	}
	fmt.Fprintf(m.Out, "Created systemd unit: %s\n", unitPath)

	if output, err := m.Run("systemctl", "daemon-reload"); err != nil {
		os.Remove(unitPath)
		return fmt.Errorf("failed to reload systemd: %s: %w", strings.TrimSpace(output), err)
	}

	if output, err := m.Run("systemctl", "enable", "--now", cfg.Name); err != nil {
		return fmt.Errorf("failed to enable service: %s: %w", strings.TrimSpace(output), err)
	}
	fmt.Fprintf(m.Out, "Enabled and started service: %s\n", cfg.Name)

	fmt.Fprintln(m.Out, "\nService management commands:")
	fmt.Fprintf(m.Out, "  sudo systemctl status %s    # Check status\n", cfg.Name)
	fmt.Fprintf(m.Out, "  sudo systemctl reload %s    # Reapply the config\n", cfg.Name)
	fmt.Fprintf(m.Out, "  sudo journalctl -u %s -f    # View logs\n", cfg.Name)
	return nil
}

// Uninstall stops and disables the service, then removes its unit.
func (m *Manager) Uninstall(name string) error {
	if !supported {
		return errUnsupported
	}

	unitPath := m.unitPath(name)
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", name)
	}

	if output, err := m.Run("systemctl", "disable", "--now", name); err != nil {
		if !strings.Contains(output, "not loaded") {
			fmt.Fprintf(m.Out, "Note: could not stop service: %s\n", strings.TrimSpace(output))
		}
	} else {
		fmt.Fprintf(m.Out, "Stopped and disabled service: %s\n", name)
	}

	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("failed to remove systemd unit file: %w", err)
	}
	fmt.Fprintf(m.Out, "Removed systemd unit: %s\n", unitPath)

	if _, err := m.Run("systemctl", "daemon-reload"); err != nil {
		fmt.Fprintln(m.Out, "Note: failed to reload systemd daemon")
	}
	m.Run("systemctl", "reset-failed", name)
	return nil
}

// Status returns the output of systemctl is-active.
func (m *Manager) Status(name string) (string, error) {
	if !supported {
		return "", errUnsupported
	}

	output, err := m.Run("systemctl", "is-active", name)
	status := strings.TrimSpace(output)
	if err != nil {
		// is-active exits non-zero for every state but active.
		if status == "inactive" || status == "unknown" || status == "failed" {
			return status, nil
		}
		return "", fmt.Errorf("failed to get service status: %w", err)
	}
	return status, nil
}

// IsInstalled checks if the unit file exists.
func (m *Manager) IsInstalled(name string) bool {
	if !supported {
		return false
	}
	_, err := os.Stat(m.unitPath(name))
	return err == nil
}

// Unit renders the systemd unit for cfg. Reload sends SIGHUP, which makes
// the daemon reapply its config.
func Unit(cfg Config) string {
	rw := "/run"
	if len(cfg.RuntimePaths) > 0 {
		rw = strings.Join(cfg.RuntimePaths, " ")
	}
	return fmt.Sprintf(`[Unit]
Description=%s
After=network-pre.target
Before=network.target

[Service]
Type=simple
ExecStart=%s daemon start -c %s
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5
TimeoutStopSec=30

AmbientCapabilities=CAP_NET_ADMIN
CapabilityBoundingSet=CAP_NET_ADMIN
DeviceAllow=/dev/net/tun rw

NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
PrivateTmp=true
ReadWritePaths=%s

StandardOutput=journal
StandardError=journal
SyslogIdentifier=%s

[Install]
WantedBy=multi-user.target
`, cfg.Description, cfg.ExecPath, cfg.ConfigPath, rw, cfg.Name)
}

// runCommand executes a command and returns combined output.
func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}
