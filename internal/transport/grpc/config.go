// Package grpc wraps the settlement coordinator's front door: handler
// methods on Server submit a settlement, poll its status, and query a
// balance, and Server owns a grpc.Server listener. No .proto-generated
// or hand-written service descriptor is registered on that grpc.Server,
// so the handlers are reachable as Go method calls, not as RPCs. This
// is a concrete, swappable transport shape, not a claim of wire-format
// canonicity (the wire encoding itself is out of scope).
package grpc

import (
	"fmt"
	"net"
)

// ServerConfig holds configuration for the coordinator's gRPC server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., "127.0.0.1:50061").
	Address string

	// MaxRecvMsgSize is the maximum message size in bytes the server can receive.
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes the server can send.
	MaxSendMsgSize int
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:        "127.0.0.1:50061",
		MaxRecvMsgSize: 4 * 1024 * 1024,
		MaxSendMsgSize: 4 * 1024 * 1024,
	}
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	host, port, err := net.SplitHostPort(c.Address)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.MaxRecvMsgSize <= 0 {
		return fmt.Errorf("max_recv_msg_size must be positive")
	}
	if c.MaxSendMsgSize <= 0 {
		return fmt.Errorf("max_send_msg_size must be positive")
	}
	return nil
}
