package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/postalsys/tunctl/internal/api"
	"github.com/postalsys/tunctl/internal/link"
)

func newListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List TUN/TAP devices known to the kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := link.List()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, infos)
			}
			return printLinkTable(os.Stdout, infos)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func printLinkTable(w io.Writer, infos []link.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No TUN/TAP devices")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODE\tSTATE\tMTU\tPERSIST\tADDRESSES")
	for _, info := range infos {
		state := "down"
		if info.Up {
			state = "up"
		}
		addrs := "-"
		if len(info.Addrs) > 0 {
			addrs = strings.Join(info.Addrs, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n", info.Name, info.Mode, state, info.MTU, info.Persistent, addrs)
	}
	return tw.Flush()
}

// showResult combines the kernel's view of a link with the daemon's.
type showResult struct {
	Link   *link.Info      `json:"link"`
	Daemon *api.DeviceInfo `json:"daemon,omitempty"`
}

func newShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one TUN/TAP device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}

			info, err := link.Lookup(args[0])
			if err != nil {
				return err
			}
			result := showResult{Link: info}

			client := api.NewClient(cfg.Daemon.SocketPath)
			if client.IsRunning() {
				if d, err := client.Device(args[0]); err == nil {
					result.Daemon = d
				}
			}

			if jsonOutput {
				return printJSON(os.Stdout, result)
			}
			return printShow(os.Stdout, result)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func printShow(w io.Writer, r showResult) error {
	l := r.Link
	fmt.Fprintf(w, "%s (index %d)\n", l.Name, l.Index)
	fmt.Fprintf(w, "  Mode:       %s\n", l.Mode)
	fmt.Fprintf(w, "  State:      %s\n", l.OperState)
	fmt.Fprintf(w, "  MTU:        %d\n", l.MTU)
	fmt.Fprintf(w, "  Persistent: %t\n", l.Persistent)
	fmt.Fprintf(w, "  Owner:      %d:%d\n", l.Owner, l.Group)
	if l.HWAddr != "" {
		fmt.Fprintf(w, "  HW address: %s\n", l.HWAddr)
	}
	for _, a := range l.Addrs {
		fmt.Fprintf(w, "  Address:    %s\n", a)
	}

	if d := r.Daemon; d != nil {
		fmt.Fprintln(w, "  Daemon:")
		fmt.Fprintf(w, "    Flags:    %s\n", d.Flags)
		if d.Destination != "" {
			fmt.Fprintf(w, "    Peer:     %s\n", d.Destination)
		}
		if d.Monitor {
			fmt.Fprintf(w, "    Packets:  %d\n", d.Packets)
		}
	}
	return nil
}
