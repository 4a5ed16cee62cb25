package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postalsys/tunctl/internal/wizard"
	"github.com/postalsys/tunctl/internal/wizard/prompt"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Launch an interactive setup wizard to configure tunctl.

The wizard will guide you through:
  1. Choosing a configuration file location
  2. Describing one or more TUN/TAP devices (mode, address, MTU, state)
  3. Daemon options (config watching, log level)
  4. Optionally installing the daemon as a system service

Example:
  sudo tunctl setup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !prompt.IsTerminal(os.Stdin) {
				return errors.New("setup needs an interactive terminal")
			}

			w := wizard.New(prompt.Stdio(), cfgFile)
			configPath, err := w.Run()
			if err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}

			fmt.Println()
			fmt.Printf("Setup complete! Configuration saved to: %s\n", configPath)
			return nil
		},
	}
}
