package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/postalsys/tunctl/internal/tun"
)

// StateProvider interface for daemon to implement. Device methods return
// NotFound for names the daemon does not hold.
type StateProvider interface {
	GetStatus() *StatusResult
	ListDevices() []DeviceInfo
	GetDevice(name string) (*DeviceInfo, error)
	GetAttr(name, key string) (string, error)
	SetAttr(name, key, value string) error
	SetUp(name string, up bool) error
	SetPersist(name string, persist bool) error
	GetConfigPath() string
}

// HandlerFunc is a function that handles an API method
type HandlerFunc func(params json.RawMessage) (any, error)

// Server is the Unix socket API server
type Server struct {
	socketPath string
	state      StateProvider
	logger     *zap.Logger
	handlers   map[string]HandlerFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new API server
func NewServer(socketPath string, state StateProvider, logger *zap.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		state:      state,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
		done:       make(chan struct{}),
	}
	s.handlers = map[string]HandlerFunc{
		MethodStatus:        s.handleStatus,
		MethodDeviceList:    s.handleDeviceList,
		MethodDeviceGet:     s.handleDeviceGet,
		MethodDeviceAttr:    s.handleDeviceAttr,
		MethodDeviceSet:     s.handleDeviceSet,
		MethodDeviceUp:      s.handleDeviceState(true),
		MethodDeviceDown:    s.handleDeviceState(false),
		MethodDevicePersist: s.handleDevicePersist,
		MethodConfigPath:    s.handleConfigPath,
	}
	return s
}

// Start listens on the socket and serves connections until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A leftover socket from a crashed daemon blocks Listen.
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		s.logger.Warn("failed to set socket permissions", zap.Error(err))
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("API server started", zap.String("socket", s.socketPath))

	s.wg.Add(2)
	go s.acceptLoop(listener)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			s.closeAll()
		case <-s.done:
		}
	}()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.closeAll()
	s.wg.Wait()
	os.Remove(s.socketPath)
	s.logger.Info("API server stopped")
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("accept error", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("decode error", zap.Error(err))
			}
			return
		}

		if err := encoder.Encode(s.handleRequest(&req)); err != nil {
			s.logger.Debug("encode error", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleRequest(req *Request) *Response {
	handler, ok := s.handlers[req.Method]
	if !ok {
		return &Response{
			Error: &Error{Code: ErrCodeMethodNotFound, Message: "method not found: " + req.Method},
			ID:    req.ID,
		}
	}

	result, err := handler(req.Params)
	if err != nil {
		s.logger.Debug("request failed", zap.String("method", req.Method), zap.Error(err))
		return &Response{Error: toError(err), ID: req.ID}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return &Response{
			Error: &Error{Code: ErrCodeInternal, Message: "failed to marshal result"},
			ID:    req.ID,
		}
	}
	return &Response{Result: data, ID: req.ID}
}

func toError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, tun.ErrInvalidArgument):
		return &Error{Code: ErrCodeInvalidParams, Message: err.Error()}
	case errors.Is(err, tun.ErrIO), errors.Is(err, tun.ErrInvalidState):
		return &Error{Code: ErrCodeDevice, Message: err.Error()}
	default:
		return &Error{Code: ErrCodeInternal, Message: err.Error()}
	}
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var p T
	if len(params) == 0 {
		return p, &Error{Code: ErrCodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return p, nil
}

func (s *Server) handleStatus(_ json.RawMessage) (any, error) {
	return s.state.GetStatus(), nil
}

func (s *Server) handleDeviceList(_ json.RawMessage) (any, error) {
	return &DeviceListResult{Devices: s.state.ListDevices()}, nil
}

func (s *Server) handleDeviceGet(params json.RawMessage) (any, error) {
	p, err := decodeParams[DeviceParams](params)
	if err != nil {
		return nil, err
	}
	return s.state.GetDevice(p.Name)
}

func (s *Server) handleDeviceAttr(params json.RawMessage) (any, error) {
	p, err := decodeParams[AttrParams](params)
	if err != nil {
		return nil, err
	}
	value, err := s.state.GetAttr(p.Name, p.Key)
	if err != nil {
		return nil, err
	}
	return &AttrResult{Name: p.Name, Key: p.Key, Value: value}, nil
}

func (s *Server) handleDeviceSet(params json.RawMessage) (any, error) {
	p, err := decodeParams[AttrParams](params)
	if err != nil {
		return nil, err
	}
	if err := s.state.SetAttr(p.Name, p.Key, p.Value); err != nil {
		return nil, err
	}
	return &Result{Success: true}, nil
}

func (s *Server) handleDeviceState(up bool) HandlerFunc {
	return func(params json.RawMessage) (any, error) {
		p, err := decodeParams[DeviceParams](params)
		if err != nil {
			return nil, err
		}
		if err := s.state.SetUp(p.Name, up); err != nil {
			return nil, err
		}
		return &Result{Success: true}, nil
	}
}

func (s *Server) handleDevicePersist(params json.RawMessage) (any, error) {
	p, err := decodeParams[PersistParams](params)
	if err != nil {
		return nil, err
	}
	if err := s.state.SetPersist(p.Name, p.Persist); err != nil {
		return nil, err
	}
	return &Result{Success: true}, nil
}

func (s *Server) handleConfigPath(_ json.RawMessage) (any, error) {
	return map[string]string{"path": s.state.GetConfigPath()}, nil
}
