package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/postalsys/tunctl/internal/monitor"
	"github.com/postalsys/tunctl/internal/packet"
	"github.com/postalsys/tunctl/internal/tun"
)

func newDumpCmd() *cobra.Command {
	var (
		opts    deviceOptions
		count   int
		showHex bool
	)

	cmd := &cobra.Command{
		Use:   "dump <name>",
		Short: "Print packets read from a device",
		Long: `Attach to a device and print a one-line summary of every packet read
from it until interrupted.

Packets read here are consumed: the device has a single reader, so nothing
else may hold it (a device monitored by the daemon cannot be dumped).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			dev, err := attach(cfg, args[0], opts)
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(dev))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return dump(ctx, dev, os.Stdout, count, showHex)
		},
	}

	addDeviceFlags(cmd, &opts)
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many packets (0 = no limit)")
	cmd.Flags().BoolVarP(&showHex, "hex", "x", false, "print packet bytes in hex")
	return cmd
}

func dump(ctx context.Context, dev *tun.Device, w io.Writer, count int, showHex bool) error {
	mtu, err := dev.MTU()
	if err != nil {
		return err
	}
	flags := dev.Flags()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := monitor.New(dev, monitor.MaxPacketSize(mtu, flags), monitor.WithLogger(GetLogger()))
	seen := 0
	err = m.Run(ctx, func(pkt []byte) {
		writePacket(w, pkt, flags, showHex)
		seen++
		if count > 0 && seen >= count {
			cancel()
		}
	})

	stats := m.Stats()
	fmt.Fprintf(os.Stderr, "%d packets, %d bytes\n", stats.Packets, stats.Bytes)
	return err
}

func writePacket(w io.Writer, pkt []byte, flags tun.Flags, showHex bool) {
	summary, err := packet.Decode(pkt, flags)
	if err != nil {
		fmt.Fprintf(w, "undecodable packet, len %d: %v\n", len(pkt), err)
	} else {
		fmt.Fprintln(w, summary)
	}
	if showHex {
		fmt.Fprint(w, hex.Dump(pkt))
	}
}
