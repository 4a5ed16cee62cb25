package cli

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/tunctl/internal/api"
	"github.com/postalsys/tunctl/internal/config"
	"github.com/postalsys/tunctl/internal/daemon"
	"github.com/postalsys/tunctl/internal/link"
)

// StatusResult holds the complete status information
type StatusResult struct {
	Daemon  DaemonStatus     `json:"daemon"`
	Devices []api.DeviceInfo `json:"devices,omitempty"`
	Links   []link.Info      `json:"links,omitempty"`
}

// DaemonStatus holds daemon process status
type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Version string `json:"version,omitempty"`
	Message string `json:"message"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and device status",
		Long: `Show the daemon state, the devices it holds and every TUN/TAP link
the kernel knows about.

Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			result := gatherStatus(cfg)
			if jsonOutput {
				return printJSON(os.Stdout, result)
			}
			return printHumanStatus(os.Stdout, result)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func gatherStatus(cfg *config.Config) *StatusResult {
	result := &StatusResult{Daemon: checkDaemonStatus(cfg)}

	if result.Daemon.Running {
		client := api.NewClient(cfg.Daemon.SocketPath)
		if devices, err := client.Devices(); err == nil {
			result.Devices = devices
		}
	}
	if links, err := link.List(); err == nil {
		result.Links = links
	}
	return result
}

// checkDaemonStatus asks the API first and falls back to the PID file.
func checkDaemonStatus(cfg *config.Config) DaemonStatus {
	client := api.NewClient(cfg.Daemon.SocketPath)
	if status, err := client.Status(); err == nil {
		return DaemonStatus{
			Running: true,
			PID:     status.PID,
			Uptime:  status.Uptime,
			Version: status.Version,
			Message: fmt.Sprintf("Daemon is running (PID %d, up %s)", status.PID, status.Uptime),
		}
	}

	pid, err := daemon.ReadPIDFile(cfg.Daemon.PIDFile)
	if err != nil {
		return DaemonStatus{Message: "Daemon is not running"}
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	process, err := os.FindProcess(pid)
	if err != nil || process.Signal(syscall.Signal(0)) != nil {
		return DaemonStatus{Message: "Daemon is not running (stale PID file)"}
	}
	return DaemonStatus{
		Running: true,
		PID:     pid,
		Message: fmt.Sprintf("Daemon is running (PID %d) but its API socket is unreachable", pid),
	}
}

func printHumanStatus(w io.Writer, result *StatusResult) error {
	fmt.Fprintf(w, "Daemon:  %s\n", result.Daemon.Message)

	if len(result.Devices) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Managed devices:")
		fmt.Fprintf(w, "  %-16s  %-24s  %-5s  %s\n", "NAME", "ADDRESS", "STATE", "MTU")
		for _, d := range result.Devices {
			addr := "-"
			if d.Address != "" {
				addr = d.Address
				if d.Netmask != "" {
					addr += "/" + d.Netmask
				}
			}
			state := "down"
			if d.Up {
				state = "up"
			}
			fmt.Fprintf(w, "  %-16s  %-24s  %-5s  %d\n", d.Name, addr, state, d.MTU)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Kernel links:")
	return printLinkTable(w, result.Links)
}
