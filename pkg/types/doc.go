/*
Package types defines the core data structures shared by every worker-executor
component: component/worker identifiers, ownership, status, and metadata.

# Core Types

  - ComponentId / ComponentVersion: identify a published WASM component
  - WorkerId / OwnedWorkerId: identify one durable worker instance
  - WorkerStatus: coarse lifecycle state, independent of process residency
  - RetryPolicy: backoff parameters applied on transient trap
  - WorkerMetadata: durable, storage-resident worker description

# Integration Points

  - pkg/storage persists WorkerMetadata and oplog entries keyed by WorkerId
  - pkg/oplog, pkg/worker, pkg/registry, pkg/rpc all operate on these types
  - pkg/host uses ComponentId/ComponentVersion to resolve WASM bytes
*/
package types
