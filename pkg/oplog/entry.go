package oplog

import (
	"encoding/json"
	"time"

	"github.com/golem-io/worker-executor/pkg/types"
)

// EntryKind tags which payload field of Entry is populated. Mirrors the
// 16-variant OplogEntry sum type; modeled as a tagged struct rather than an
// interface so JSON (de)serialization stays a single switch, the same
// Command{Op, Data} tagged-dispatch idiom.
type EntryKind string

const (
	KindCreate                   EntryKind = "create"
	KindImportedFunctionInvoked  EntryKind = "imported_function_invoked"
	KindExportedFunctionInvoked  EntryKind = "exported_function_invoked"
	KindExportedFunctionComplete EntryKind = "exported_function_completed"
	KindSuspend                  EntryKind = "suspend"
	KindResume                   EntryKind = "resume"
	KindError                    EntryKind = "error"
	KindNoOp                     EntryKind = "noop"
	KindJump                     EntryKind = "jump"
	KindInterrupted              EntryKind = "interrupted"
	KindExited                   EntryKind = "exited"
	KindChangeRetryPolicy        EntryKind = "change_retry_policy"
	KindBeginAtomicRegion        EntryKind = "begin_atomic_region"
	KindEndAtomicRegion          EntryKind = "end_atomic_region"
	KindBeginRemoteWrite         EntryKind = "begin_remote_write"
	KindEndRemoteWrite           EntryKind = "end_remote_write"
	KindPendingWorkerInvocation  EntryKind = "pending_worker_invocation"
	KindPendingUpdate            EntryKind = "pending_update"
	KindSuccessfulUpdate         EntryKind = "successful_update"
	KindFailedUpdate             EntryKind = "failed_update"
	KindGrowMemory               EntryKind = "grow_memory"
	KindCreateResource           EntryKind = "create_resource"
	KindDropResource             EntryKind = "drop_resource"
	KindDescribeResource         EntryKind = "describe_resource"
	KindLog                      EntryKind = "log"
	KindActivatePlugin           EntryKind = "activate_plugin"
	KindDeactivatePlugin         EntryKind = "deactivate_plugin"
	KindRevert                   EntryKind = "revert"
	KindPromiseCompleted         EntryKind = "promise_completed"
)

// DurableFunctionType classifies a host call's effect for durability/
// batching purposes.
type DurableFunctionType string

const (
	ReadLocal            DurableFunctionType = "read_local"
	WriteLocal           DurableFunctionType = "write_local"
	ReadRemote           DurableFunctionType = "read_remote"
	WriteRemote          DurableFunctionType = "write_remote"
	WriteRemoteBatched   DurableFunctionType = "write_remote_batched"
)

// Entry is one record in a worker's oplog. Exactly one payload field is
// populated, selected by Kind; every entry carries an Index assigned by the
// Oplog it was appended to and a wall-clock Timestamp recorded at append
// time (replayed, never re-read live).
type Entry struct {
	Index     types.OplogIndex `json:"index"`
	Kind      EntryKind        `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`

	Create                  *CreatePayload                  `json:"create,omitempty"`
	ImportedFunctionInvoked *ImportedFunctionInvokedPayload  `json:"imported_function_invoked,omitempty"`
	ExportedFunctionInvoked *ExportedFunctionInvokedPayload  `json:"exported_function_invoked,omitempty"`
	ExportedFunctionResult  *ExportedFunctionCompletedPayload `json:"exported_function_completed,omitempty"`
	Suspend                 *SuspendPayload                  `json:"suspend,omitempty"`
	Error                   *ErrorPayload                    `json:"error,omitempty"`
	Jump                    *JumpPayload                     `json:"jump,omitempty"`
	Interrupted             *InterruptedPayload              `json:"interrupted,omitempty"`
	ChangeRetryPolicy       *ChangeRetryPolicyPayload        `json:"change_retry_policy,omitempty"`
	BeginRemoteWrite        *BeginRemoteWritePayload         `json:"begin_remote_write,omitempty"`
	EndRemoteWrite          *EndRemoteWritePayload           `json:"end_remote_write,omitempty"`
	PendingWorkerInvocation *PendingWorkerInvocationPayload  `json:"pending_worker_invocation,omitempty"`
	PendingUpdate           *PendingUpdatePayload            `json:"pending_update,omitempty"`
	SuccessfulUpdate        *SuccessfulUpdatePayload         `json:"successful_update,omitempty"`
	FailedUpdate            *FailedUpdatePayload             `json:"failed_update,omitempty"`
	GrowMemory              *GrowMemoryPayload               `json:"grow_memory,omitempty"`
	Resource                *ResourcePayload                 `json:"resource,omitempty"`
	Log                     *LogPayload                      `json:"log,omitempty"`
	Plugin                  *PluginPayload                   `json:"plugin,omitempty"`
	Revert                  *RevertPayload                   `json:"revert,omitempty"`
	PromiseCompleted        *PromiseCompletedPayload         `json:"promise_completed,omitempty"`
}

type CreatePayload struct {
	Metadata          types.WorkerMetadata `json:"metadata"`
	Parent            *types.WorkerId      `json:"parent,omitempty"`
	ComponentVersion  types.ComponentVersion `json:"component_version"`
	InitialFilesHash  string               `json:"initial_files_hash,omitempty"`
}

type ImportedFunctionInvokedPayload struct {
	FullName        string              `json:"full_name"`
	RequestPayload  json.RawMessage     `json:"request_payload"`
	ResponsePayload json.RawMessage     `json:"response_payload"`
	FunctionType    DurableFunctionType `json:"function_type"`
}

type ExportedFunctionInvokedPayload struct {
	FunctionName      string          `json:"function_name"`
	Inputs            json.RawMessage `json:"inputs"`
	IdempotencyKey    string          `json:"idempotency_key"`
	InvocationContext map[string]string `json:"invocation_context,omitempty"`
}

type ExportedFunctionCompletedPayload struct {
	ResultPayload json.RawMessage `json:"result_payload"`
	ConsumedFuel  int64           `json:"consumed_fuel"`
}

type SuspendPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	TrapType string `json:"trap_type"`
}

// JumpPayload marks [Start, End) as skipped on replay.
type JumpPayload struct {
	Start types.OplogIndex `json:"start"`
	End   types.OplogIndex `json:"end"`
}

type InterruptedPayload struct {
	Kind string `json:"kind"`
}

type ChangeRetryPolicyPayload struct {
	Policy types.RetryPolicy `json:"policy"`
}

type BeginRemoteWritePayload struct {
	Key string `json:"key"`
}

type EndRemoteWritePayload struct {
	BeginIndex types.OplogIndex `json:"begin_index"`
}

type PendingWorkerInvocationPayload struct {
	Target         types.WorkerId  `json:"target"`
	FunctionName   string          `json:"function_name"`
	Inputs         json.RawMessage `json:"inputs"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type PendingUpdatePayload struct {
	TargetVersion types.ComponentVersion `json:"target_version"`
	Kind          string                 `json:"kind"` // "snapshot" | "automatic"
}

type SuccessfulUpdatePayload struct {
	TargetVersion types.ComponentVersion `json:"target_version"`
	// Snapshot is populated for snapshot-based updates: the opaque state
	// the new version was seeded with. Recovery re-seeds from it and
	// replays only the invocations recorded after this entry.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

type FailedUpdatePayload struct {
	TargetVersion types.ComponentVersion `json:"target_version"`
	Reason        string                 `json:"reason"`
}

type GrowMemoryPayload struct {
	Delta uint64 `json:"delta"`
}

type ResourcePayload struct {
	ResourceID     uint64 `json:"resource_id"`
	ResourceName   string `json:"resource_name,omitempty"`
	ResourceParams string `json:"resource_params,omitempty"`
}

type LogPayload struct {
	Level   string `json:"level"`
	Context string `json:"context"`
	Message string `json:"message"`
}

type PluginPayload struct {
	PluginID string `json:"plugin_id"`
}

type RevertPayload struct {
	ToIndex types.OplogIndex `json:"to_index"`
}

// PromiseCompletedPayload records an external promise completion on the
// creating worker's timeline. PromiseIndex is the oplog index of the host
// call that created the promise.
type PromiseCompletedPayload struct {
	PromiseIndex types.OplogIndex `json:"promise_index"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
}
