package host

import (
	"context"
	"fmt"
	"time"

	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/oplog"
)

// bookkeepingKinds are oplog entries that bracket an invocation but never
// flow through Dispatch (resource handle churn, suspend/resume markers,
// diagnostics). expectNext folds them into the resource table and skips
// past them the same way dispatchReplay already does for CreateResource/
// DropResource.
func isBookkeeping(kind oplog.EntryKind) bool {
	switch kind {
	case oplog.KindCreate, // consumed by the engine's recovery path directly, never via Dispatch
		oplog.KindCreateResource, oplog.KindDropResource, oplog.KindDescribeResource,
		oplog.KindSuspend, oplog.KindResume, oplog.KindLog, oplog.KindActivatePlugin,
		oplog.KindDeactivatePlugin, oplog.KindChangeRetryPolicy, oplog.KindNoOp,
		oplog.KindGrowMemory, oplog.KindInterrupted, oplog.KindPendingUpdate,
		oplog.KindSuccessfulUpdate, oplog.KindFailedUpdate, oplog.KindPendingWorkerInvocation,
		oplog.KindPromiseCompleted:
		return true
	default:
		return false
	}
}

// expectNext advances the replay cursor past any bookkeeping entries and
// returns the next substantive entry, failing unless it has the expected
// kind. It is used by pkg/worker's recovery path to consume the
// Create/ExportedFunctionInvoked/ExportedFunctionCompleted/Error brackets
// that Dispatch itself never sees (those are appended by the exported-call
// boundary, not by a host import).
func (h *HostContext) expectNext(ctx context.Context, kind oplog.EntryKind) (oplog.Entry, error) {
	h.mu.Lock()
	cursor := h.replayCursor
	h.mu.Unlock()

	for {
		entries, err := h.ol.Read(ctx, cursor, 1)
		if err != nil {
			return oplog.Entry{}, fmt.Errorf("reading oplog at %d: %w", cursor, err)
		}
		if len(entries) == 0 {
			return oplog.Entry{}, &golemerror.OplogError{
				WorkerID: h.workerID.String(),
				Reason:   fmt.Sprintf("replay expected %s at index %d but found none", kind, cursor),
			}
		}
		entry := entries[0]
		if isBookkeeping(entry.Kind) && entry.Kind != kind {
			h.resources.restore(entry)
			cursor = entry.Index + 1
			continue
		}
		if entry.Kind != kind {
			return oplog.Entry{}, &golemerror.OplogError{
				WorkerID: h.workerID.String(),
				Reason:   fmt.Sprintf("replay expected %s at index %d, found %s", kind, entry.Index, entry.Kind),
			}
		}
		h.mu.Lock()
		h.replayCursor = entry.Index + 1
		if h.replayCursor > h.replayTail {
			h.mode = Live
		}
		h.mu.Unlock()
		return entry, nil
	}
}

// recordExportedInvoked and recordExportedCompleted/recordExportedError are
// the live-mode counterparts of expectNext, used when a replay that caught
// up to the tail mid-invocation must append the brackets that a crash left
// unrecorded.
func (h *HostContext) recordExportedInvoked(ctx context.Context, functionName string, inputs []byte, idempotencyKey string) error {
	_, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindExportedFunctionInvoked,
		Timestamp: time.Now(),
		ExportedFunctionInvoked: &oplog.ExportedFunctionInvokedPayload{
			FunctionName:   functionName,
			Inputs:         inputs,
			IdempotencyKey: idempotencyKey,
		},
	}}, oplog.Immediate)
	return err
}

func (h *HostContext) recordExportedCompleted(ctx context.Context, resultPayload []byte, consumedFuel int64) error {
	_, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindExportedFunctionComplete,
		Timestamp: time.Now(),
		ExportedFunctionResult: &oplog.ExportedFunctionCompletedPayload{
			ResultPayload: resultPayload,
			ConsumedFuel:  consumedFuel,
		},
	}}, oplog.Immediate)
	return err
}

func (h *HostContext) recordExportedError(ctx context.Context, trapType string) error {
	_, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindError,
		Timestamp: time.Now(),
		Error:     &oplog.ErrorPayload{TrapType: trapType},
	}}, oplog.Immediate)
	return err
}

// ReplayTail returns the oplog index recorded at HostContext construction
// time: the tail the worker must reach before Dispatch starts running
// calls live.
func (h *HostContext) ReplayTail() uint64 { return uint64(h.replayTail) }

// DrainToLive advances the replay cursor past any bookkeeping entries
// (Suspend, resource churn, retry markers) left after the last real
// invocation in a worker's history, switching to Live once the cursor
// reaches the tail. pkg/worker calls this once it has replayed every
// ExportedFunctionInvoked entry, since a worker that last stopped on a
// Suspend marker (rather than mid-invocation) would otherwise leave
// Dispatch waiting for an invocation bracket that will never come.
func (h *HostContext) DrainToLive(ctx context.Context) error {
	for {
		h.mu.Lock()
		if h.mode == Live {
			h.mu.Unlock()
			return nil
		}
		cursor := h.replayCursor
		tail := h.replayTail
		h.mu.Unlock()

		if cursor > tail {
			h.SwitchToLive()
			return nil
		}
		entries, err := h.ol.Read(ctx, cursor, 1)
		if err != nil {
			return fmt.Errorf("reading oplog at %d: %w", cursor, err)
		}
		if len(entries) == 0 {
			h.SwitchToLive()
			return nil
		}
		entry := entries[0]
		if !isBookkeeping(entry.Kind) {
			return &golemerror.OplogError{
				WorkerID: h.workerID.String(),
				Reason:   fmt.Sprintf("unexpected %s at index %d while draining to live", entry.Kind, entry.Index),
			}
		}
		h.resources.restore(entry)
		h.mu.Lock()
		h.replayCursor = entry.Index + 1
		if h.replayCursor > h.replayTail {
			h.mode = Live
		}
		h.mu.Unlock()
	}
}
