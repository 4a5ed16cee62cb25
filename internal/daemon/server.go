package daemon

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/postalsys/tunctl/internal/api"
	"github.com/postalsys/tunctl/internal/config"
	"github.com/postalsys/tunctl/internal/monitor"
	"github.com/postalsys/tunctl/internal/packet"
	"github.com/postalsys/tunctl/internal/tun"
)

// Server is the main daemon server. It owns the descriptors of every
// configured device for as long as it runs.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	manager    *tun.Manager
	version    string
	monitorOpt []monitor.Option

	mu       sync.RWMutex
	devices  map[string]*managedDevice
	running  bool
	started  time.Time
	runCtx   context.Context
	cancelFn context.CancelFunc
}

type managedDevice struct {
	cfg     config.DeviceConfig
	dev     *tun.Device
	persist bool

	monitor  *monitor.Monitor
	readSize int
	packets  uint64 // counted by monitors already stopped
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithManager sets the device manager, e.g. one backed by a fake kernel.
func WithManager(m *tun.Manager) Option {
	return func(s *Server) { s.manager = m }
}

// WithVersion sets the version reported by the status method.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMonitorOptions passes options to every packet monitor.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(s *Server) { s.monitorOpt = append(s.monitorOpt, opts...) }
}

// New creates a new daemon server
func New(cfg *config.Config, configPath string, logger *zap.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	// zap can only raise the level of an existing core.
	if level > zapcore.LevelOf(logger.Core()) {
		logger = logger.WithOptions(zap.IncreaseLevel(level))
	}

	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		manager:    tun.NewManager(),
		devices:    make(map[string]*managedDevice),
		runCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts the daemon server and blocks until ctx is done or Stop is
// called. Devices are closed on return; persistent ones stay in the kernel.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	cfg := s.cfg
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := writePIDFile(cfg.Daemon.PIDFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(cfg.Daemon.PIDFile)

	if err := s.start(ctx, cancel); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer s.cleanup()

	apiServer := api.NewServer(cfg.Daemon.SocketPath, s, s.logger)
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	if cfg.Daemon.Watch && s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, s.logger, s.Reload)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		defer watcher.Close()
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				s.logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	s.logger.Info("daemon started",
		zap.Int("devices", len(cfg.Devices)),
		zap.String("socket", cfg.Daemon.SocketPath),
	)

	<-ctx.Done()
	return nil
}

// start opens every configured device. On failure the devices opened so far
// are closed again.
func (s *Server) start(ctx context.Context, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCtx = ctx
	s.cancelFn = cancel
	s.started = time.Now()

	for _, dc := range s.cfg.Devices {
		if err := s.openDevice(dc); err != nil {
			return multierr.Append(err, s.closeAllLocked())
		}
	}
	return nil
}

// cleanup closes all devices
func (s *Server) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeAllLocked(); err != nil {
		s.logger.Warn("failed to close devices", zap.Error(err))
	}
}

func (s *Server) closeAllLocked() error {
	var err error
	for name, md := range s.devices {
		err = multierr.Append(err, s.closeDevice(md))
		delete(s.devices, name)
	}
	return err
}

// openDevice creates and configures one device. Caller must hold s.mu.
func (s *Server) openDevice(dc config.DeviceConfig) error {
	tc, err := dc.TunConfig()
	if err != nil {
		return fmt.Errorf("device %s: %w", dc.Name, err)
	}
	dev, err := s.manager.Open(tc)
	if err != nil {
		return fmt.Errorf("failed to open device %s: %w", dc.Name, err)
	}

	md := &managedDevice{cfg: dc, dev: dev, persist: dc.Persist}
	s.devices[dev.Name()] = md
	if dc.Monitor {
		s.startMonitor(md)
	}

	s.logger.Info("device opened",
		zap.String("name", dev.Name()),
		zap.Stringer("flags", dev.Flags()),
		zap.Bool("persist", dc.Persist),
	)
	return nil
}

// closeDevice stops the device's monitor before releasing the descriptor.
func (s *Server) closeDevice(md *managedDevice) error {
	s.stopMonitor(md)
	if err := md.dev.Close(); err != nil {
		return fmt.Errorf("failed to close device %s: %w", md.dev.Name(), err)
	}
	s.logger.Info("device closed", zap.String("name", md.dev.Name()))
	return nil
}

func (s *Server) startMonitor(md *managedDevice) {
	mtu, err := md.dev.MTU()
	if err != nil {
		mtu = 65535
	}
	flags := md.dev.Flags()
	name := md.dev.Name()

	opts := append([]monitor.Option{monitor.WithLogger(s.logger)}, s.monitorOpt...)
	md.readSize = monitor.MaxPacketSize(mtu, flags)
	m := monitor.New(md.dev, md.readSize, opts...)

	ctx, cancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	md.monitor, md.cancel, md.done = m, cancel, done

	go func() {
		defer close(done)
		err := m.Run(ctx, func(pkt []byte) {
			ce := s.logger.Check(zap.DebugLevel, "packet")
			if ce == nil {
				return
			}
			summary, err := packet.Decode(pkt, flags)
			if err != nil {
				ce.Write(zap.String("device", name), zap.Int("len", len(pkt)), zap.Error(err))
				return
			}
			ce.Write(zap.String("device", name), zap.Stringer("summary", summary))
		})
		if err != nil {
			s.logger.Warn("packet monitor stopped", zap.String("device", name), zap.Error(err))
		}
	}()
}

func (s *Server) stopMonitor(md *managedDevice) {
	if md.monitor == nil {
		return
	}
	md.cancel()
	<-md.done
	md.packets += md.monitor.Stats().Packets
	md.monitor, md.cancel, md.done = nil, nil, nil
}

// resizeMonitor restarts a running monitor whose read size no longer matches
// the device MTU. Caller must hold s.mu.
func (s *Server) resizeMonitor(md *managedDevice) {
	if md.monitor == nil {
		return
	}
	mtu, err := md.dev.MTU()
	if err != nil || monitor.MaxPacketSize(mtu, md.dev.Flags()) == md.readSize {
		return
	}
	s.stopMonitor(md)
	s.startMonitor(md)
	s.logger.Debug("packet monitor resized", zap.String("device", md.dev.Name()), zap.Int("read_size", md.readSize))
}

// Reload applies a new configuration: devices missing from cfg are closed,
// new ones opened, and changed ones reconfigured in place or recreated when
// their mode or options differ.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for name, md := range s.devices {
		if _, ok := cfg.Device(name); ok {
			continue
		}
		errs = multierr.Append(errs, s.closeDevice(md))
		delete(s.devices, name)
	}

	for _, dc := range cfg.Devices {
		md, ok := s.devices[dc.Name]
		switch {
		case !ok:
			errs = multierr.Append(errs, s.openDevice(dc))
		case md.cfg.Equal(dc):
		case md.cfg.SameInterface(dc):
			errs = multierr.Append(errs, s.reconfigure(md, dc))
		default:
			errs = multierr.Append(errs, s.recreate(md, dc))
		}
	}

	s.cfg = cfg
	s.logger.Info("configuration applied", zap.Int("devices", len(s.devices)))
	return errs
}

func (s *Server) reconfigure(md *managedDevice, dc config.DeviceConfig) error {
	tc, err := dc.TunConfig()
	if err != nil {
		return fmt.Errorf("device %s: %w", dc.Name, err)
	}
	if err := md.dev.Apply(tc); err != nil {
		return fmt.Errorf("failed to reconfigure device %s: %w", dc.Name, err)
	}
	md.cfg = dc
	md.persist = dc.Persist

	switch {
	case dc.Monitor && md.monitor == nil:
		s.startMonitor(md)
	case !dc.Monitor && md.monitor != nil:
		s.stopMonitor(md)
	case dc.Monitor:
		s.resizeMonitor(md)
	}
	s.logger.Info("device reconfigured", zap.String("name", dc.Name))
	return nil
}

// recreate replaces a device whose mode or options changed. A persistent
// interface is released first, or the kernel would refuse the new mode.
func (s *Server) recreate(md *managedDevice, dc config.DeviceConfig) error {
	var err error
	if md.persist {
		err = md.dev.SetPersistent(false)
	}
	err = multierr.Append(err, s.closeDevice(md))
	delete(s.devices, dc.Name)
	if err != nil {
		return err
	}
	return s.openDevice(dc)
}

// Stop stops the daemon server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelFn != nil {
		s.cancelFn()
	}
	return nil
}

func (s *Server) lookup(name string) (*managedDevice, error) {
	md, ok := s.devices[name]
	if !ok {
		return nil, api.NotFound(name)
	}
	return md, nil
}

// GetStatus implements api.StateProvider.
func (s *Server) GetStatus() *api.StatusResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	monitored := 0
	for _, md := range s.devices {
		if md.monitor != nil {
			monitored++
		}
	}
	return &api.StatusResult{
		Running:    s.running,
		PID:        os.Getpid(),
		ConfigPath: s.configPath,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Version:    s.version,
		Devices:    len(s.devices),
		Monitored:  monitored,
	}
}

// ListDevices implements api.StateProvider.
func (s *Server) ListDevices() []api.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]api.DeviceInfo, 0, len(s.devices))
	for _, md := range s.devices {
		infos = append(infos, md.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// GetDevice implements api.StateProvider.
func (s *Server) GetDevice(name string) (*api.DeviceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	info := md.info()
	return &info, nil
}

// GetAttr implements api.StateProvider.
func (s *Server) GetAttr(name, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	v, err := md.dev.Get(key)
	if err != nil {
		return "", err
	}
	return tun.FormatValue(v), nil
}

// SetAttr implements api.StateProvider.
func (s *Server) SetAttr(name, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.lookup(name)
	if err != nil {
		return err
	}
	v, err := tun.ParseValue(key, value)
	if err != nil {
		return err
	}
	if err := md.dev.Set(key, v); err != nil {
		return err
	}
	if key == tun.AttrMTU {
		s.resizeMonitor(md)
	}
	s.logger.Info("attribute set", zap.String("device", name), zap.String("key", key), zap.String("value", value))
	return nil
}

// SetUp implements api.StateProvider.
func (s *Server) SetUp(name string, up bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, err := s.lookup(name)
	if err != nil {
		return err
	}
	if up {
		return md.dev.Up()
	}
	return md.dev.Down()
}

// SetPersist implements api.StateProvider.
func (s *Server) SetPersist(name string, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := md.dev.SetPersistent(persist); err != nil {
		return err
	}
	md.persist = persist
	return nil
}

// GetConfigPath implements api.StateProvider.
func (s *Server) GetConfigPath() string {
	return s.configPath
}

// info reads the live state of the device. Unset addresses are left empty.
func (md *managedDevice) info() api.DeviceInfo {
	info := api.DeviceInfo{
		Name:    md.dev.Name(),
		Flags:   md.dev.Flags().String(),
		Persist: md.persist,
		Monitor: md.monitor != nil,
	}
	info.Address, _ = md.dev.Address()
	info.Netmask, _ = md.dev.Netmask()
	info.Destination, _ = md.dev.Destination()
	info.MTU, _ = md.dev.MTU()
	info.Up, _ = md.dev.IsUp()
	if md.dev.Flags().IsTAP() {
		if mac, err := md.dev.HardwareAddress(); err == nil {
			info.HWAddr = mac.String()
		}
	}
	if md.monitor != nil {
		info.Packets = md.packets + md.monitor.Stats().Packets
	}
	return info
}

// writePIDFile writes the PID to a file
func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}

// ReadPIDFile reads the PID from a file
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
