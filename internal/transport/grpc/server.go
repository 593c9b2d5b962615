package grpc

import (
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/settlecoord/coordinator/internal/coordinator"
)

// Server is the gRPC server fronting a Coordinator.
type Server struct {
	mu sync.RWMutex

	grpcServer  *grpc.Server
	coordinator *coordinator.Coordinator
	config      *ServerConfig
	listener    net.Listener
	running     bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCoordinator sets the coordinator the server dispatches requests to.
func WithCoordinator(c *coordinator.Coordinator) ServerOption {
	return func(s *Server) {
		s.coordinator = c
	}
}

// WithConfig sets the server's configuration.
func WithConfig(cfg *ServerConfig) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// NewServer creates a new gRPC server fronting coord.
func NewServer(cfg *ServerConfig, coord *coordinator.Coordinator) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
	}
	grpcServer := grpc.NewServer(opts...)

	return &Server{
		grpcServer:  grpcServer,
		coordinator: coord,
		config:      cfg,
		running:     false,
	}, nil
}

// Start starts the gRPC server and begins accepting connections. This
// method blocks until the server is stopped or an error occurs.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	return s.grpcServer.Serve(listener)
}

// StartAsync starts the gRPC server in a goroutine and returns immediately.
func (s *Server) StartAsync() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	go func() {
		_ = s.grpcServer.Serve(listener)
	}()
	return nil
}

// Stop gracefully stops the gRPC server, waiting for in-flight RPCs to
// complete before returning.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.grpcServer.GracefulStop()
	s.running = false
}

// StopNow immediately stops the gRPC server without waiting for
// in-flight RPCs.
func (s *Server) StopNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.grpcServer.Stop()
	s.running = false
}

// IsRunning returns true if the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the address the server is listening on, or "" if
// the server is not running.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GetGRPCServer returns the underlying grpc.Server so additional
// services can be registered on it.
func (s *Server) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}
