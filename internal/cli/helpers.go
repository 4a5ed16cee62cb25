package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"go.uber.org/multierr"

	"github.com/postalsys/tunctl/internal/api"
	"github.com/postalsys/tunctl/internal/config"
	"github.com/postalsys/tunctl/internal/link"
	"github.com/postalsys/tunctl/internal/tun"
)

// loadConfig loads the configuration file from the global cfgFile path.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadConfigOrDefault is loadConfig for commands that work without a
// config file; a missing file yields the defaults.
func loadConfigOrDefault() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// deviceOptions are the mode flags shared by commands that attach to a
// device by name.
type deviceOptions struct {
	mode    string
	options []string
}

// resolveFlags picks the mode flags for attaching to name: explicit flags
// first, then the config entry, then the mode and options the kernel reports,
// then tun. TUNSETIFF rewrites the feature bits of a persistent device, so
// an attach without options keeps what the kernel already has.
func resolveFlags(cfg *config.Config, name string, opts deviceOptions, lookup func(string) (*link.Info, error)) (tun.Flags, error) {
	if opts.mode != "" {
		return tun.ParseFlags(opts.mode, opts.options)
	}
	if cfg != nil {
		if dc, ok := cfg.Device(name); ok {
			if len(opts.options) > 0 {
				return tun.ParseFlags(dc.Mode, opts.options)
			}
			return dc.Flags()
		}
	}
	mode, options := "tun", opts.options
	if lookup != nil {
		if info, err := lookup(name); err == nil {
			mode = info.Mode
			if len(options) == 0 {
				options = info.Options
			}
		}
	}
	return tun.ParseFlags(mode, options)
}

// attach opens an existing interface. It refuses names the kernel does not
// know so a typo does not create a throwaway device.
func attach(cfg *config.Config, name string, opts deviceOptions) (*tun.Device, error) {
	if _, err := link.Lookup(name); errors.Is(err, link.ErrNotFound) {
		return nil, fmt.Errorf("no such TUN/TAP device: %s", name)
	}
	flags, err := resolveFlags(cfg, name, opts, link.Lookup)
	if err != nil {
		return nil, err
	}
	dev, err := tun.Create(name, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to %s: %w", name, err)
	}
	return dev, nil
}

// withDevice runs viaAPI when the daemon holds name and direct on a freshly
// attached descriptor otherwise.
func withDevice(cfg *config.Config, name string, opts deviceOptions, viaAPI func(*api.Client) error, direct func(*tun.Device) error) (err error) {
	client := api.NewClient(cfg.Daemon.SocketPath)
	if client.IsRunning() {
		err := viaAPI(client)
		if !api.IsNotFound(err) {
			return err
		}
		GetLogger().Debug("device not held by daemon, attaching directly")
	}

	dev, err := attach(cfg, name, opts)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(dev))
	return direct(dev)
}

// readAttr returns the text form of one attribute.
func readAttr(dev *tun.Device, key string) (string, error) {
	v, err := dev.Get(key)
	if err != nil {
		return "", err
	}
	return tun.FormatValue(v), nil
}

// writeAttr parses value and writes it to the device.
func writeAttr(dev *tun.Device, key, value string) error {
	v, err := tun.ParseValue(key, value)
	if err != nil {
		return err
	}
	return dev.Set(key, v)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
