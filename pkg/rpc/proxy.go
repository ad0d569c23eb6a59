package rpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	_ "github.com/golem-io/worker-executor/pkg/grpcjson" // registers the "proto" json codec
	"github.com/golem-io/worker-executor/pkg/types"
)

// NodeResolver maps a shard number to the address of the node that
// currently owns it. Resolving shard ownership to a node address is an
// external service-discovery concern (non-goal); pkg/executor supplies a
// concrete implementation backed by whatever the deployment uses (e.g. a
// cached shard-manager Assignments response joined against node
// registrations).
type NodeResolver interface {
	Resolve(ctx context.Context, shard uint32) (addr string, err error)
}

// Proxy dials other worker-executor nodes and forwards RPCs for workers
// this node does not own. Connections are cached and reused across calls;
// it never proxies the streaming Connect RPC, since the CLI/client is
// expected to dial the owning node directly for that one.
type Proxy struct {
	resolver NodeResolver
	shardOf  func(types.WorkerId) uint32

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewProxy(resolver NodeResolver, shardOf func(types.WorkerId) uint32) *Proxy {
	return &Proxy{resolver: resolver, shardOf: shardOf, conns: make(map[string]*grpc.ClientConn)}
}

func (p *Proxy) dial(ctx context.Context, owned types.OwnedWorkerId) (*grpc.ClientConn, error) {
	shard := p.shardOf(owned.WorkerId)
	addr, err := p.resolver.Resolve(ctx, shard)
	if err != nil {
		return nil, fmt.Errorf("resolving owner of shard %d: %w", shard, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing worker-executor node %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return conn, nil
}

// InvokeAndAwait forwards a blocking invocation to the node owning owned's
// shard.
func (p *Proxy) InvokeAndAwait(ctx context.Context, owned types.OwnedWorkerId, fn string, args []uint64, idempotencyKey string) (Response[InvokeAndAwaitResponse], error) {
	conn, err := p.dial(ctx, owned)
	if err != nil {
		return Response[InvokeAndAwaitResponse]{}, err
	}
	req := &InvokeAndAwaitRequest{OwnedWorkerId: owned, FunctionName: fn, Args: args, IdempotencyKey: idempotencyKey}
	resp := &Response[InvokeAndAwaitResponse]{}
	if err := conn.Invoke(ctx, "/golem.WorkerExecutor/InvokeAndAwait", req, resp); err != nil {
		return Response[InvokeAndAwaitResponse]{}, fmt.Errorf("proxied invoke_and_await: %w", err)
	}
	return *resp, nil
}

// Invoke forwards a fire-and-forget invocation to the node owning owned's
// shard.
func (p *Proxy) Invoke(ctx context.Context, owned types.OwnedWorkerId, fn string, args []uint64, idempotencyKey string) error {
	conn, err := p.dial(ctx, owned)
	if err != nil {
		return err
	}
	req := &InvokeRequest{OwnedWorkerId: owned, FunctionName: fn, Args: args, IdempotencyKey: idempotencyKey}
	resp := &Response[InvokeResponse]{}
	if err := conn.Invoke(ctx, "/golem.WorkerExecutor/Invoke", req, resp); err != nil {
		return fmt.Errorf("proxied invoke: %w", err)
	}
	if resp.Failure != nil {
		return fmt.Errorf("remote invocation failed: %s", resp.Failure.Message)
	}
	return nil
}

// Call forwards an arbitrary RPC method by its fully-qualified gRPC path,
// for the handlers (GetMetadata, Interrupt, Delete, ...) that do not need a
// dedicated typed wrapper.
func (p *Proxy) Call(ctx context.Context, owned types.OwnedWorkerId, method string, req, resp any) error {
	conn, err := p.dial(ctx, owned)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, method, req, resp)
}
