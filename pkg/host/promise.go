package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/types"
)

// PromiseBackend is the live-mode service behind the promise host calls.
// pkg/worker adapts the shared promise service to it per worker, scoping
// every call to the owning worker's identity.
type PromiseBackend interface {
	Create(ctx context.Context, idx types.OplogIndex) error
	Await(ctx context.Context, idx types.OplogIndex) (json.RawMessage, error)
}

// SetPromiseBackend wires the live backend for CreatePromise/AwaitPromise.
// Must be set before the instance starts executing; replayed calls never
// reach the backend.
func (h *HostContext) SetPromiseBackend(b PromiseBackend) {
	h.mu.Lock()
	h.promises = b
	h.mu.Unlock()
}

// CreatePromise handles golem:api/promise.create. A promise is identified
// by (worker_id, oplog_index) where the index is the one this host call's
// own record receives, so replay reconstructs the identical identity from
// the recorded response without touching the backend.
func (h *HostContext) CreatePromise(ctx context.Context) (types.OplogIndex, error) {
	v, err := h.Dispatch(ctx, "golem:api/promise.create", oplog.WriteLocal, Value{}, func(ctx context.Context) (Value, error) {
		h.mu.Lock()
		backend := h.promises
		h.mu.Unlock()
		if backend == nil {
			return Value{}, fmt.Errorf("no promise backend configured")
		}
		// The record of this call is the next entry the oplog will assign;
		// appends for this worker are single-writer, so the index cannot be
		// taken by anything else in between.
		idx, err := h.ol.CurrentIndex(ctx)
		if err != nil {
			return Value{}, err
		}
		if err := backend.Create(ctx, idx); err != nil {
			return Value{}, err
		}
		return U64Value(uint64(idx)), nil
	})
	if err != nil {
		return 0, err
	}
	if v.Uint == nil {
		return 0, fmt.Errorf("promise.create: malformed replayed value")
	}
	return types.OplogIndex(*v.Uint), nil
}

// AwaitPromise handles golem:api/promise.await: it blocks until the promise
// identified by idx is completed (a suspension point for the worker) and
// returns the completion payload. On replay the recorded payload is served
// without blocking.
func (h *HostContext) AwaitPromise(ctx context.Context, idx types.OplogIndex) (json.RawMessage, error) {
	v, err := h.Dispatch(ctx, "golem:api/promise.await", oplog.ReadLocal, U64Value(uint64(idx)), func(ctx context.Context) (Value, error) {
		h.mu.Lock()
		backend := h.promises
		h.mu.Unlock()
		if backend == nil {
			return Value{}, fmt.Errorf("no promise backend configured")
		}
		payload, err := backend.Await(ctx, idx)
		if err != nil {
			return Value{}, err
		}
		return StrValue(string(payload)), nil
	})
	if err != nil {
		return nil, err
	}
	if v.Str == nil {
		return nil, fmt.Errorf("promise.await: malformed replayed value")
	}
	return json.RawMessage(*v.Str), nil
}
