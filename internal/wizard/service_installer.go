package wizard

import (
	"fmt"
	"runtime"

	"github.com/postalsys/tunctl/internal/config"
	"github.com/postalsys/tunctl/internal/service"
	"github.com/postalsys/tunctl/internal/wizard/prompt"
)

const serviceName = "tunctl"

// ServiceInstaller handles the interactive service installation flow.
type ServiceInstaller struct {
	p          *prompt.Prompter
	configPath string
	daemon     config.DaemonConfig

	manager    *service.Manager
	goos       string
	isRoot     func() bool
	executable func() (string, error)
}

// NewServiceInstaller creates a new service installer for the given config.
func NewServiceInstaller(p *prompt.Prompter, configPath string, daemon config.DaemonConfig) *ServiceInstaller {
	m := service.NewManager()
	m.Out = p.Out()
	return &ServiceInstaller{
		p:          p,
		configPath: configPath,
		daemon:     daemon,
		manager:    m,
		goos:       runtime.GOOS,
		isRoot:     service.IsRoot,
		executable: service.Executable,
	}
}

// Run executes the interactive service installation flow.
// Returns nil on success or if the user declines installation.
func (s *ServiceInstaller) Run() error {
	s.p.PrintHeader("Service Installation", "Install the tunctl daemon as a system service.")

	if s.goos != "linux" {
		s.p.PrintInfo("Service installation is only available on Linux.")
		return nil
	}

	if !s.isRoot() {
		s.p.PrintWarning("Not running as root. Service installation requires root privileges.")
		fmt.Fprintln(s.p.Out())
		s.printManualInstallCommand()
		return nil
	}

	install, err := s.p.Confirm("Install the tunctl daemon as a systemd service?", true)
	if err != nil {
		return err
	}
	if !install {
		fmt.Fprintln(s.p.Out())
		s.printManualInstallCommand()
		return nil
	}

	if s.manager.IsInstalled(serviceName) {
		s.p.PrintWarning("Service is already installed. Uninstall first to reinstall.")
		return nil
	}

	return s.install()
}

func (s *ServiceInstaller) printManualInstallCommand() {
	fmt.Fprintln(s.p.Out(), "To install as a service later, run:")
	fmt.Fprintf(s.p.Out(), "  sudo tunctl service install -c %s\n", s.configPath)
}

func (s *ServiceInstaller) install() error {
	fmt.Fprintln(s.p.Out())
	s.p.PrintInfo("Installing systemd service...")

	cfg := service.DefaultConfig(s.configPath, s.daemon)
	execPath, err := s.executable()
	if err == nil {
		cfg.ExecPath = execPath
		err = s.manager.Install(cfg)
	}
	if err != nil {
		// A failed install leaves the written config usable.
		s.p.PrintError(fmt.Sprintf("Failed to install service: %v", err))
		fmt.Fprintln(s.p.Out())
		fmt.Fprintln(s.p.Out(), "You can try installing manually:")
		fmt.Fprintf(s.p.Out(), "  sudo tunctl service install -c %s\n", s.configPath)
		return nil
	}

	s.p.PrintSuccess("Service installed and started!")
	return nil
}
