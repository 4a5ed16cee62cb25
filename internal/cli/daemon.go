package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/postalsys/tunctl/internal/config"
	"github.com/postalsys/tunctl/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Daemon management commands",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonReloadCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Info("starting tunctl daemon",
				zap.String("config", cfgFile),
				zap.Int("devices", len(cfg.Devices)),
			)

			srv, err := daemon.New(cfg, cfgFile, log, daemon.WithVersion(Version))
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigCh)

			go func() {
				for sig := range sigCh {
					switch sig {
					case syscall.SIGHUP:
						log.Info("received SIGHUP, reloading configuration")
						newCfg, err := config.Load(cfgFile)
						if err != nil {
							log.Error("failed to reload config", zap.Error(err))
							continue
						}
						if err := srv.Reload(newCfg); err != nil {
							log.Error("failed to apply new config", zap.Error(err))
						}
					case syscall.SIGINT, syscall.SIGTERM:
						log.Info("received shutdown signal", zap.String("signal", sig.String()))
						cancel()
						return
					}
				}
			}()

			if err := srv.Run(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("daemon error: %w", err)
			}

			log.Info("daemon stopped")
			return nil
		},
	}
}

// signalDaemon sends sig to the process named in the PID file.
func signalDaemon(sig syscall.Signal) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 0, err
	}

	pid, err := daemon.ReadPIDFile(cfg.Daemon.PIDFile)
	if err != nil {
		return 0, fmt.Errorf("daemon not running or PID file not found: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(sig); err != nil {
		return 0, fmt.Errorf("failed to send %s: %w", sig, err)
	}
	return pid, nil
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := signalDaemon(syscall.SIGTERM)
			if err != nil {
				return err
			}
			fmt.Printf("Sent SIGTERM to daemon (PID %d)\n", pid)
			return nil
		},
	}
}

func newDaemonReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload daemon configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := signalDaemon(syscall.SIGHUP)
			if err != nil {
				return err
			}
			fmt.Printf("Sent SIGHUP to daemon (PID %d)\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			fmt.Println(checkDaemonStatus(cfg).Message)
			return nil
		},
	}
}
