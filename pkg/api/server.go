package api

import (
	"fmt"
	"net"

	"google.golang.org/grpc"

	_ "github.com/golem-io/worker-executor/pkg/grpcjson" // registers the "proto" json codec
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/rpc"
)

// Server hosts the worker-executor gRPC API (bootstrap C10).
type Server struct {
	impl rpc.WorkerExecutorServer
	grpc *grpc.Server
}

// NewServer wraps impl in a gRPC server with the logging interceptor
// installed. TLS termination is a deployment concern (service mesh or
// fronting gateway); the executor API itself listens in cleartext inside
// the cluster.
func NewServer(impl rpc.WorkerExecutorServer) *Server {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(LoggingInterceptor()),
	)
	return &Server{impl: impl, grpc: grpcServer}
}

// NewReadOnlyServer is NewServer restricted to read-only methods, for a
// local diagnostics listener (a unix socket, a loopback port) where write
// operations should be refused.
func NewReadOnlyServer(impl rpc.WorkerExecutorServer) *Server {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(ReadOnlyInterceptor(), LoggingInterceptor()),
	)
	return &Server{impl: impl, grpc: grpcServer}
}

// Start listens on addr and serves until Stop. Blocking.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve registers the worker-executor service and serves on lis. Blocking.
func (s *Server) Serve(lis net.Listener) error {
	rpc.RegisterWorkerExecutorServer(s.grpc, s.impl)
	apiLogger := log.WithComponent("api")
	apiLogger.Info().Str("addr", lis.Addr().String()).Msg("worker-executor gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server, letting in-flight RPCs finish.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}
