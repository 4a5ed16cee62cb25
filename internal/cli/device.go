package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/postalsys/tunctl/internal/api"
	"github.com/postalsys/tunctl/internal/tun"
)

func addDeviceFlags(cmd *cobra.Command, opts *deviceOptions) {
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "device mode: tun or tap (default: from config or kernel)")
	cmd.Flags().StringSliceVarP(&opts.options, "option", "o", nil, "mode options: no_pi, one_queue, vnet_hdr, exclusive")
}

func newMkCmd() *cobra.Command {
	var (
		opts   deviceOptions
		cfg    tun.Config
		hwaddr string
	)

	cmd := &cobra.Command{
		Use:   "mk [name]",
		Short: "Create a persistent TUN/TAP device",
		Long: `Create a persistent TUN or TAP device and configure it.

Without a name the kernel picks one (tun0, tap0, ...). The device stays
after tunctl exits; remove it with 'tunctl rm'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if opts.mode == "" {
				opts.mode = "tun"
			}
			if len(args) == 1 {
				cfg.Name = args[0]
			}
			cfg.Flags, err = tun.ParseFlags(opts.mode, opts.options)
			if err != nil {
				return err
			}
			if hwaddr != "" {
				cfg.HardwareAddr, err = net.ParseMAC(hwaddr)
				if err != nil {
					return fmt.Errorf("invalid hwaddr %q: %w", hwaddr, err)
				}
			}
			cfg.Persist = true

			dev, err := tun.NewManager().Open(cfg)
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(dev))

			GetLogger().Debug("device created", zap.String("name", dev.Name()), zap.Stringer("flags", dev.Flags()))
			fmt.Println(dev.Name())
			return nil
		},
	}

	addDeviceFlags(cmd, &opts)
	cmd.Flags().StringVar(&cfg.Address, "addr", "", "IPv4 address")
	cmd.Flags().StringVar(&cfg.Netmask, "netmask", "", "IPv4 netmask")
	cmd.Flags().StringVar(&cfg.Destination, "dstaddr", "", "point-to-point peer address")
	cmd.Flags().StringVar(&hwaddr, "hwaddr", "", "Ethernet address (tap only)")
	cmd.Flags().IntVar(&cfg.MTU, "mtu", 0, "MTU (default: kernel default)")
	cmd.Flags().BoolVar(&cfg.Up, "up", false, "bring the device up")

	return cmd
}

func newRmCmd() *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a persistent TUN/TAP device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			name := args[0]
			client := api.NewClient(cfg.Daemon.SocketPath)
			if client.IsRunning() {
				if _, err := client.Device(name); err == nil {
					return fmt.Errorf("%s is held by the daemon; remove it from %s and reload", name, cfgFile)
				}
			}

			dev, err := attach(cfg, name, opts)
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(dev))

			if err := dev.SetPersistent(false); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", name)
			return nil
		},
	}

	addDeviceFlags(cmd, &opts)
	return cmd
}

func newUpCmd() *cobra.Command {
	return newStateCmd("up", "Bring a device up", true)
}

func newDownCmd() *cobra.Command {
	return newStateCmd("down", "Take a device down", false)
}

func newStateCmd(use, short string, up bool) *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			name := args[0]
			return withDevice(cfg, name, opts,
				func(c *api.Client) error {
					if up {
						return c.Up(name)
					}
					return c.Down(name)
				},
				func(dev *tun.Device) error {
					if up {
						return dev.Up()
					}
					return dev.Down()
				},
			)
		},
	}

	addDeviceFlags(cmd, &opts)
	return cmd
}

func newAttrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Read and write device attributes",
		Long: `Read and write device attributes.

Attributes: name (read-only), addr, dstaddr, netmask, hwaddr, mtu.`,
	}

	cmd.AddCommand(newAttrGetCmd())
	cmd.AddCommand(newAttrSetCmd())

	return cmd
}

func newAttrGetCmd() *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   "get <name> [attribute...]",
		Short: "Print device attributes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			name, keys := args[0], args[1:]
			if len(keys) == 0 {
				keys = tun.Attributes
			}

			values := make([]string, len(keys))
			err = withDevice(cfg, name, opts,
				func(c *api.Client) error {
					for i, key := range keys {
						v, err := c.Attr(name, key)
						if err != nil {
							return err
						}
						values[i] = v
					}
					return nil
				},
				func(dev *tun.Device) error {
					for i, key := range keys {
						v, err := readAttr(dev, key)
						if err != nil {
							return err
						}
						values[i] = v
					}
					return nil
				},
			)
			if err != nil {
				return err
			}

			if len(keys) == 1 {
				fmt.Println(values[0])
				return nil
			}
			for i, key := range keys {
				fmt.Printf("%-8s %s\n", key, values[i])
			}
			return nil
		},
	}

	addDeviceFlags(cmd, &opts)
	return cmd
}

func newAttrSetCmd() *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   "set <name> <attribute> <value>",
		Short: "Write a device attribute",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			name, key, value := args[0], args[1], args[2]
			// Reject bad input before touching the daemon or the device.
			if _, err := tun.ParseValue(key, value); err != nil {
				return err
			}

			return withDevice(cfg, name, opts,
				func(c *api.Client) error { return c.SetAttr(name, key, value) },
				func(dev *tun.Device) error { return writeAttr(dev, key, value) },
			)
		},
	}

	addDeviceFlags(cmd, &opts)
	return cmd
}
