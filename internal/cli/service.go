package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postalsys/tunctl/internal/service"
)

const serviceName = "tunctl"

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "System service management (Linux only)",
		Long: `Install, uninstall, and manage the tunctl daemon as a systemd service.

Creating TUN/TAP devices needs CAP_NET_ADMIN, so tunctl is installed as a
system service (not a user service).`,
	}

	cmd.AddCommand(newServiceInstallCmd())
	cmd.AddCommand(newServiceUninstallCmd())
	cmd.AddCommand(newServiceStatusCmd())

	return cmd
}

func newServiceInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install as systemd service",
		Long: `Install the tunctl daemon as a systemd service.

The service is enabled and started right away and on every boot. The unit
runs "tunctl daemon start" with the config file given by --config.

Example:
  sudo tunctl service install -c /etc/tunctl/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsRoot() {
				return fmt.Errorf("must run as root to install service\n\nTry: sudo tunctl service install -c %s", cfgFile)
			}

			// The daemon refuses to start on a broken config; catch that now.
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			execPath, err := service.Executable()
			if err != nil {
				return err
			}

			svc := service.DefaultConfig(cfgFile, cfg.Daemon)
			svc.ExecPath = execPath
			return service.NewManager().Install(svc)
		},
	}
}

func newServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall systemd service",
		Long: `Remove the tunctl systemd service.

This stops and disables the service, then removes the unit file. Devices
the daemon made persistent stay in the kernel.

Example:
  sudo tunctl service uninstall`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsRoot() {
				return fmt.Errorf("must run as root to uninstall service\n\nTry: sudo tunctl service uninstall")
			}
			return service.NewManager().Uninstall(serviceName)
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show systemd service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := service.NewManager()
			if !m.IsInstalled(serviceName) {
				fmt.Println("Service is not installed")
				return nil
			}

			status, err := m.Status(serviceName)
			if err != nil {
				return err
			}
			fmt.Printf("Service %s: %s\n", serviceName, status)
			return nil
		},
	}
}
