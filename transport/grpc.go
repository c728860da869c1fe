package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
	"github.com/sutra-kernel/sutra/sutra"
)

// GRPCConfig configures the gRPC adapter.
type GRPCConfig struct {
	Port                  int
	MaxConcurrentStreams  uint32
	MaxReceiveMessageSize int
	EnableMetrics         bool
}

// DefaultGRPCConfig returns sane defaults for local development.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Port:                  50051,
		MaxConcurrentStreams:  100,
		MaxReceiveMessageSize: 4 * 1024 * 1024,
		EnableMetrics:         true,
	}
}

// GRPCAdapter hosts the kernel's gRPC surface. This module ships no .proto
// and registers no service itself; RegisterService wires a caller's
// generated server implementation into the adapter's *grpc.Server, so the
// adapter's caller registers its own service descriptors rather than the
// adapter hardcoding one.
type GRPCAdapter struct {
	config  GRPCConfig
	server  *grpc.Server
	hub     *sutra.CommHub
	metrics *metrics.KernelMetrics
	log     core.Logger
	running bool
}

// NewGRPCAdapter builds a GRPCAdapter wired to hub.
func NewGRPCAdapter(config GRPCConfig, hub *sutra.CommHub, log core.Logger, opts ...grpc.ServerOption) (*GRPCAdapter, error) {
	if log == nil {
		log = core.NopLogger()
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(config.MaxReceiveMessageSize),
	}, opts...)

	adapter := &GRPCAdapter{
		config: config,
		server: grpc.NewServer(serverOpts...),
		hub:    hub,
		log:    log,
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewKernelMetrics()
		if err != nil {
			return nil, fmt.Errorf("grpc adapter: new metrics: %w", err)
		}
	}

	return adapter, nil
}

// RegisterService exposes the underlying *grpc.Server so generated service
// registration functions (e.g. pb.RegisterKernelServiceServer) can attach.
func (g *GRPCAdapter) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	g.server.RegisterService(desc, impl)
}

// Hub returns the CommHub the adapter is bound to, for use by a generated
// service implementation's constructor.
func (g *GRPCAdapter) Hub() *sutra.CommHub { return g.hub }

// Server returns the underlying *grpc.Server.
func (g *GRPCAdapter) Server() *grpc.Server { return g.server }

// Metrics returns the adapter's metrics collector, or nil if disabled.
func (g *GRPCAdapter) Metrics() *metrics.KernelMetrics { return g.metrics }

// Start marks the adapter running. Actual net.Listener binding and
// g.server.Serve(lis) happen in the binary composing the adapter, once all
// services have been registered.
func (g *GRPCAdapter) Start(ctx context.Context) error {
	g.running = true
	return nil
}

// Stop gracefully drains in-flight RPCs and stops the server.
func (g *GRPCAdapter) Stop(ctx context.Context) error {
	g.running = false
	if g.server != nil {
		g.server.GracefulStop()
	}
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (g *GRPCAdapter) IsRunning() bool {
	return g.running
}
