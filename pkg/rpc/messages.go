// Package rpc implements the durable RPC fabric — in-process direct
// worker-to-worker calls plus a remote proxy for workers owned by another
// shard — and exposes the external worker-executor RPC surface over a
// hand-rolled gRPC service description.
package rpc

import (
	"encoding/json"

	"github.com/golem-io/worker-executor/pkg/types"
)

// GolemError is the wire shape of pkg/golemerror's taxonomy, flattened for
// JSON transport across the RPC boundary.
type GolemError struct {
	Kind    string `json:"kind"` // "guest_trap" | "host_call" | "oplog" | "resource_limit" | "interrupted" | "internal"
	Message string `json:"message"`
}

// Redirect carries the shard a misrouted request should be retried against
// (every response distinguishes Success, Failure, or Redirect).
type Redirect struct {
	ShardNumber uint32 `json:"shard_number"`
}

// Response is the Result[Success, Failure(GolemError) | Redirect] shape,
// modeled as a struct with exactly one populated field rather than a Go
// interface so it round-trips through the JSON grpc codec (pkg/grpcjson)
// without a custom (Un)MarshalJSON.
type Response[T any] struct {
	Success  *T          `json:"success,omitempty"`
	Failure  *GolemError `json:"failure,omitempty"`
	Redirect *Redirect   `json:"redirect,omitempty"`
}

func Ok[T any](v T) Response[T]            { return Response[T]{Success: &v} }
func Fail[T any](e GolemError) Response[T] { return Response[T]{Failure: &e} }
func RedirectTo[T any](shard uint32) Response[T] {
	return Response[T]{Redirect: &Redirect{ShardNumber: shard}}
}

type CreateWorkerRequest struct {
	OwnedWorkerId    types.OwnedWorkerId `json:"owned_worker_id"`
	ComponentVersion types.ComponentVersion `json:"component_version"`
	Args             []string            `json:"args"`
	Env              map[string]string   `json:"env"`
}

type CreateWorkerResponse struct {
	WorkerId types.WorkerId `json:"worker_id"`
}

type InvokeAndAwaitRequest struct {
	OwnedWorkerId  types.OwnedWorkerId `json:"owned_worker_id"`
	FunctionName   string              `json:"function_name"`
	Args           []uint64            `json:"args"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type InvokeAndAwaitResponse struct {
	Results []uint64 `json:"results"`
}

// InvokeAndAwaitTypedRequest/Response carry the codec.Value-encoded typed
// arguments/results ("Typed values across the WIT boundary") instead of raw
// wasm words.
type InvokeAndAwaitTypedRequest struct {
	OwnedWorkerId  types.OwnedWorkerId `json:"owned_worker_id"`
	FunctionName   string              `json:"function_name"`
	Args           json.RawMessage     `json:"args"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type InvokeAndAwaitTypedResponse struct {
	Result json.RawMessage `json:"result"`
}

type InvokeRequest struct {
	OwnedWorkerId  types.OwnedWorkerId `json:"owned_worker_id"`
	FunctionName   string              `json:"function_name"`
	Args           []uint64            `json:"args"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type InvokeResponse struct{}

type ConnectRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
}

// LogEvent is one item streamed back by Connect.
type LogEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type InterruptRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	Kind          string              `json:"kind"` // InterruptKind, string-encoded for transport
}

type InterruptResponse struct{}

type ResumeRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
}

type ResumeResponse struct{}

type UpdateRequest struct {
	OwnedWorkerId types.OwnedWorkerId    `json:"owned_worker_id"`
	TargetVersion types.ComponentVersion `json:"target_version"`
	Mode          string                 `json:"mode"` // "snapshot" | "automatic"
}

type UpdateResponse struct{}

type DeleteRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
}

type DeleteResponse struct{}

type CompletePromiseRequest struct {
	WorkerId   types.WorkerId   `json:"worker_id"`
	OplogIndex types.OplogIndex `json:"oplog_index"`
	Payload    json.RawMessage  `json:"payload"`
}

type CompletePromiseResponse struct {
	AlreadyCompleted bool `json:"already_completed"`
}

type GetMetadataRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
}

type GetMetadataResponse struct {
	Metadata types.WorkerMetadata `json:"metadata"`
}

type ListWorkersRequest struct {
	ComponentId types.ComponentId `json:"component_id"`
	Cursor      string            `json:"cursor"`
	Limit       int               `json:"limit"`
	Precise     bool              `json:"precise"`
	NamePrefix  string            `json:"name_prefix,omitempty"`
}

type ListWorkersResponse struct {
	Workers    []types.WorkerMetadata `json:"workers"`
	NextCursor string                 `json:"next_cursor"`
}

type GetOplogRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	From          types.OplogIndex    `json:"from"`
	Count         int                 `json:"count"`
}

type GetOplogResponse struct {
	Entries json.RawMessage `json:"entries"` // []oplog.Entry, encoded opaquely to avoid an rpc→oplog import cycle
}

type SearchOplogRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	Query         string              `json:"query"`
	Cursor        string              `json:"cursor"`
	Limit         int                 `json:"limit"`
}

type SearchOplogResponse struct {
	Entries    json.RawMessage `json:"entries"`
	NextCursor string          `json:"next_cursor"`
}

type ListDirectoryRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	Path          string              `json:"path"`
}

type DirEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type ListDirectoryResponse struct {
	Entries []DirEntry `json:"entries"`
}

type ReadFileRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	Path          string              `json:"path"`
}

type ReadFileResponse struct {
	Data []byte `json:"data"`
}

type ActivatePluginRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	PluginId      string              `json:"plugin_id"`
}

type ActivatePluginResponse struct{}

type DeactivatePluginRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	PluginId      string              `json:"plugin_id"`
}

type DeactivatePluginResponse struct{}

type GetFileContentsRequest struct {
	OwnedWorkerId types.OwnedWorkerId `json:"owned_worker_id"`
	Path          string              `json:"path"`
}

type GetFileContentsResponse struct {
	Data []byte `json:"data"`
}
