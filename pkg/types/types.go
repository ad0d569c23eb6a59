// Package types holds the value types shared across every Golem
// worker-executor component: identifiers, metadata, and status enums.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComponentId identifies a published WASM component definition.
type ComponentId struct {
	UUID uuid.UUID
}

func NewComponentId() ComponentId {
	return ComponentId{UUID: uuid.New()}
}

func (c ComponentId) String() string {
	return c.UUID.String()
}

// ComponentVersion is a monotonically increasing version number assigned
// each time a component's WASM bytes are republished.
type ComponentVersion uint64

// WorkerId identifies one durable worker instance of a component.
type WorkerId struct {
	ComponentId ComponentId
	WorkerName  string
}

func (w WorkerId) String() string {
	return fmt.Sprintf("%s/%s", w.ComponentId, w.WorkerName)
}

// AccountId identifies the account a worker is billed/limited against.
type AccountId struct {
	Value string
}

// OwnedWorkerId pairs a WorkerId with the account that owns it, the shape
// every storage and RPC call threads through instead of a bare WorkerId.
type OwnedWorkerId struct {
	AccountId AccountId
	WorkerId  WorkerId
}

func (o OwnedWorkerId) String() string {
	return fmt.Sprintf("%s:%s", o.AccountId.Value, o.WorkerId)
}

// ShardId identifies one shard of the worker-executor's keyspace, as
// assigned by the external shard manager.
type ShardId uint32

// OplogIndex is a 1-based, strictly increasing position in a worker's oplog.
type OplogIndex uint64

// WorkerStatus is the coarse lifecycle state of a worker, independent of
// whether the worker is currently loaded in this process's registry.
type WorkerStatus string

const (
	WorkerStatusRunning     WorkerStatus = "running"
	WorkerStatusIdle        WorkerStatus = "idle"
	WorkerStatusSuspended   WorkerStatus = "suspended"
	WorkerStatusInterrupted WorkerStatus = "interrupted"
	WorkerStatusRetrying    WorkerStatus = "retrying"
	WorkerStatusFailed      WorkerStatus = "failed"
	WorkerStatusExited      WorkerStatus = "exited"
)

// RetryPolicy controls how many times and how long to wait before retrying
// a worker invocation that failed with a transient trap.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy mirrors the conservative default used across example
// Golem deployments: a handful of retries with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinDelay:    100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// WorkerMetadata is the durable, storage-resident description of a worker,
// independent of whether an Engine for it is currently resident in memory.
type WorkerMetadata struct {
	OwnedWorkerId      OwnedWorkerId
	ComponentVersion   ComponentVersion
	Args               []string
	Env                map[string]string
	Status             WorkerStatus
	RetryPolicy        RetryPolicy
	CreatedAt          time.Time
	LastError          string
	PendingInvocations int
	ActivePlugins      []string
}

// InitialFile describes a file staged into a worker's WASI preopen
// filesystem at creation time.
type InitialFile struct {
	Path     string
	Hash     string
	ReadOnly bool
}
