// Package golemerror gives the error taxonomy every worker-executor
// component raises a concrete Go shape, so RPC handlers can map any error
// onto the external API's Result[Success, Failure(GolemError) | Redirect]
// response without re-deriving the classification ad hoc at each call site.
package golemerror

import "fmt"

// GolemError is implemented by every typed error in this package.
type GolemError interface {
	error
	golemError()
}

// GuestTrapError wraps a WASM trap raised inside the running component
// (unreachable, out-of-bounds memory access, stack overflow, explicit
// guest panic).
type GuestTrapError struct {
	WorkerID string
	Message  string
}

func (e *GuestTrapError) Error() string {
	return fmt.Sprintf("worker %s trapped: %s", e.WorkerID, e.Message)
}
func (*GuestTrapError) golemError() {}

// HostCallError wraps a failure raised by a host import itself (not the
// guest), e.g. a malformed outgoing HTTP request.
type HostCallError struct {
	FunctionName string
	Err          error
}

func (e *HostCallError) Error() string {
	return fmt.Sprintf("host call %s failed: %v", e.FunctionName, e.Err)
}
func (e *HostCallError) Unwrap() error { return e.Err }
func (*HostCallError) golemError()     {}

// OplogError signals a violation of the oplog's own invariants: a replay
// host-call name mismatch, a corrupt cold chunk, a dangling atomic region.
type OplogError struct {
	WorkerID string
	Reason   string
}

func (e *OplogError) Error() string {
	return fmt.Sprintf("oplog error for worker %s: %s", e.WorkerID, e.Reason)
}
func (*OplogError) golemError() {}

// ShardMisrouting signals that a request landed on an executor that does
// not currently own the target worker's shard; callers should translate
// this into a Redirect response rather than a Failure.
type ShardMisrouting struct {
	WorkerID   string
	OwningNode string
}

func (e *ShardMisrouting) Error() string {
	return fmt.Sprintf("worker %s is not owned by this executor (owner: %s)", e.WorkerID, e.OwningNode)
}
func (*ShardMisrouting) golemError() {}

// ResourceLimitError signals a worker exceeded its configured fuel or
// memory ceiling.
type ResourceLimitError struct {
	WorkerID string
	Resource string // "fuel" | "memory"
	Limit    uint64
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("worker %s exceeded %s limit (%d)", e.WorkerID, e.Resource, e.Limit)
}
func (*ResourceLimitError) golemError() {}

// InterruptedError signals a worker was interrupted (explicitly, or by a
// shard drain) rather than having failed.
type InterruptedError struct {
	WorkerID string
	Kind     string // "interrupt" | "restart" | "drain"
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("worker %s interrupted (%s)", e.WorkerID, e.Kind)
}
func (*InterruptedError) golemError() {}
