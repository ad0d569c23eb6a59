package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	_ "github.com/golem-io/worker-executor/pkg/grpcjson" // registers the "proto" json codec
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/metrics"
	"github.com/golem-io/worker-executor/pkg/types"
)

// RegisterRequest/Response, AssignmentsResponse, HeartbeatRequest and
// RequestDrainRequest model the external shard-manager interface (register,
// assignments, heartbeat, request_drain). The shard manager itself is an
// external collaborator: this package only consumes it.
type RegisterRequest struct {
	Node     string `json:"node"`
	Capacity int    `json:"capacity"`
}

type RegisterResponse struct {
	TotalShards uint32 `json:"total_shards"`
}

type AssignmentsResponse struct {
	// Shards lists the shard numbers currently assigned to this node.
	Shards      []uint32 `json:"shards"`
	TotalShards uint32   `json:"total_shards"`
}

type HeartbeatRequest struct {
	Node string `json:"node"`
}

type HeartbeatResponse struct{}

type RequestDrainRequest struct {
	Node   string   `json:"node"`
	Shards []uint32 `json:"shards"`
}

type RequestDrainResponse struct{}

// ShardClient consumes the external shard-manager interface over a
// hand-rolled gRPC call (no generated stub — see pkg/grpcjson), caches the
// most recent assignment, and answers Owns(workerID) for the shard-safety
// invariant every RPC entrypoint must check before touching a worker.
type ShardClient struct {
	node string
	conn *grpc.ClientConn

	mu          sync.RWMutex
	owned       map[uint32]struct{}
	totalShards uint32
}

// NewShardClient dials the shard-manager address; the connection is lazy
// (grpc.NewClient does not block on dial). Shard-manager auth is a
// deployment concern, so the dial is plain.
func NewShardClient(node, shardManagerAddr string) (*ShardClient, error) {
	conn, err := grpc.NewClient(shardManagerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing shard manager at %s: %w", shardManagerAddr, err)
	}
	return &ShardClient{node: node, conn: conn, owned: make(map[uint32]struct{})}, nil
}

func (c *ShardClient) Close() error { return c.conn.Close() }

// Register announces this node to the shard manager with its worker
// capacity, receiving back the total shard count used for hashing
// WorkerId → shard number.
func (c *ShardClient) Register(ctx context.Context, capacity int) error {
	req := &RegisterRequest{Node: c.node, Capacity: capacity}
	resp := &RegisterResponse{}
	if err := c.conn.Invoke(ctx, "/golem.ShardManager/Register", req, resp); err != nil {
		return fmt.Errorf("registering with shard manager: %w", err)
	}
	c.mu.Lock()
	c.totalShards = resp.TotalShards
	c.mu.Unlock()
	return nil
}

// RefreshAssignments polls the shard manager for this node's current shard
// assignment and updates the cached ownership set.
func (c *ShardClient) RefreshAssignments(ctx context.Context) error {
	resp := &AssignmentsResponse{}
	if err := c.conn.Invoke(ctx, "/golem.ShardManager/Assignments", &struct {
		Node string `json:"node"`
	}{Node: c.node}, resp); err != nil {
		return fmt.Errorf("fetching shard assignments: %w", err)
	}
	owned := make(map[uint32]struct{}, len(resp.Shards))
	for _, s := range resp.Shards {
		owned[s] = struct{}{}
	}
	c.mu.Lock()
	c.owned = owned
	if resp.TotalShards > 0 {
		c.totalShards = resp.TotalShards
	}
	c.mu.Unlock()
	metrics.ShardsAssignedTotal.Set(float64(len(owned)))
	return nil
}

// Heartbeat keeps this node's registration alive at the shard manager.
func (c *ShardClient) Heartbeat(ctx context.Context) error {
	return c.conn.Invoke(ctx, "/golem.ShardManager/Heartbeat", &HeartbeatRequest{Node: c.node}, &HeartbeatResponse{})
}

// StartHeartbeatLoop runs Heartbeat on interval until ctx is cancelled,
// logging (not panicking) on transient failures.
func (c *ShardClient) StartHeartbeatLoop(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("shard_client")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				logger.Warn().Err(err).Msg("shard manager heartbeat failed")
			}
		}
	}
}

// RequestDrain asks the shard manager to reassign shards away from this
// node, used during graceful shutdown before residents are suspended.
func (c *ShardClient) RequestDrain(ctx context.Context, shards []uint32) error {
	return c.conn.Invoke(ctx, "/golem.ShardManager/RequestDrain",
		&RequestDrainRequest{Node: c.node, Shards: shards}, &RequestDrainResponse{})
}

// OwnedShards returns a snapshot of the shard numbers currently assigned.
func (c *ShardClient) OwnedShards() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shards := make([]uint32, 0, len(c.owned))
	for s := range c.owned {
		shards = append(shards, s)
	}
	return shards
}

// ShardNumber computes the stable hash shard routing key for id: stable
// hash of the WorkerId tuple, modulo the total shard count.
func (c *ShardClient) ShardNumber(id types.WorkerId) uint32 {
	c.mu.RLock()
	total := c.totalShards
	c.mu.RUnlock()
	if total == 0 {
		total = 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.String()))
	return h.Sum32() % total
}

// Owns reports whether this node currently owns the shard id's WorkerId
// hashes to. RPC entrypoints and the registry's Drain call this before
// mutating a worker (shard safety).
func (c *ShardClient) Owns(id types.WorkerId) bool {
	shard := c.ShardNumber(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owned[shard]
	return ok
}

// OwnedCount returns the number of shards currently assigned to this node.
func (c *ShardClient) OwnedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.owned)
}

// OwnerHint is a placeholder redirect target: the shard-manager interface
// does not expose a per-shard owner-node lookup beyond this node's own
// assignment, so a misrouted request's Redirect payload reports only the
// shard number; resolving it to an address is left to whatever service
// discovery the caller already uses to find executors (out of scope for the
// core).
func (c *ShardClient) OwnerHint(id types.WorkerId) uint32 {
	return c.ShardNumber(id)
}
