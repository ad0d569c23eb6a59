// Package host is the durable host context: the WASI-shaped host
// implementation presented to the guest, and the decision procedure that
// routes each host call either to the live backend or to the replay of the
// oplog. This is the most load-bearing package in the repository.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/types"
)

// Mode is the HostContext's current decision mode.
type Mode int

const (
	// Live: the worker is at the oplog tail; host calls run against real
	// backends and are recorded.
	Live Mode = iota
	// Replay: the worker is re-creating history below the tail; host
	// calls are served from recorded entries without touching a backend.
	Replay
	// PersistNothing: an explicit guest scope in which calls run live but
	// are recorded nowhere, restored to the prior mode on scope exit.
	PersistNothing
)

// HostContext holds one worker instance's dispatch state: its current
// mode, the resource table, and the oplog it replays from / records to.
type HostContext struct {
	workerID types.WorkerId
	ol       oplog.Oplog
	logger   zerolog.Logger

	mu            sync.Mutex
	mode          Mode
	replayCursor  types.OplogIndex // next index Dispatch will consume in Replay mode
	replayTail    types.OplogIndex // first index at/after which the worker is Live
	resources     *ResourceTable
	promises      PromiseBackend // live backend for promise.create/await
	openRemoteKey string         // non-empty while a BeginRemoteWrite bracket is open
}

// New constructs a HostContext for workerID, starting in Replay mode up to
// replayTail (the oplog's length at the time the worker was (re)created);
// Recover (pkg/worker) drives Dispatch calls until the cursor reaches the
// tail, then calls SwitchToLive.
func New(workerID types.WorkerId, ol oplog.Oplog, replayTail types.OplogIndex) *HostContext {
	mode := Live
	cursor := types.OplogIndex(1)
	if replayTail >= 1 {
		mode = Replay
	}
	return &HostContext{
		workerID:     workerID,
		ol:           ol,
		logger:       log.WithComponent("host").With().Str("worker_id", workerID.String()).Logger(),
		mode:         mode,
		replayCursor: cursor,
		replayTail:   replayTail,
		resources:    NewResourceTable(),
	}
}

// NewResumed constructs a HostContext whose replay starts at startCursor
// instead of just past the Create entry. The worker engine uses it when
// recovering a worker whose history was superseded by a snapshot update:
// entries below the SuccessfulUpdate that carries the snapshot are not
// replayed, only consumed history after it.
func NewResumed(workerID types.WorkerId, ol oplog.Oplog, startCursor, replayTail types.OplogIndex) *HostContext {
	h := New(workerID, ol, replayTail)
	h.mu.Lock()
	h.replayCursor = startCursor
	if h.replayCursor > h.replayTail {
		h.mode = Live
	}
	h.mu.Unlock()
	return h
}

// SwitchToLive flips the context out of Replay mode once the replay cursor
// has reached the tail. Calling it while entries remain unreplayed is a
// programming error (the worker engine guarantees this ordering).
func (h *HostContext) SwitchToLive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = Live
}

// Mode returns the context's current dispatch mode.
func (h *HostContext) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// Resources returns the per-worker resource table.
func (h *HostContext) Resources() *ResourceTable { return h.resources }

// Call is the function a host import closes over to perform its live
// effect; it returns the value to record and return. The call's
// DurableFunctionType is passed to Dispatch separately.
type Call func(ctx context.Context) (Value, error)

// Dispatch is the single choke point every WASI/golem host import funnels
// through. It decides Live vs Replay vs PersistNothing and enforces the
// function-name stability invariant. request describes the call's inputs
// and is recorded alongside the response so oplog inspection can search
// over what was asked, not just what came back.
func (h *HostContext) Dispatch(ctx context.Context, functionName string, durability oplog.DurableFunctionType, request Value, call Call) (Value, error) {
	h.mu.Lock()
	mode := h.mode
	h.mu.Unlock()

	switch mode {
	case Replay:
		return h.dispatchReplay(ctx, functionName)
	case PersistNothing:
		return call(ctx)
	default:
		return h.dispatchLive(ctx, functionName, durability, request, call)
	}
}

func (h *HostContext) dispatchReplay(ctx context.Context, functionName string) (Value, error) {
	h.mu.Lock()
	cursor := h.replayCursor
	h.mu.Unlock()

	var entry oplog.Entry
	for {
		entries, err := h.ol.Read(ctx, cursor, 1)
		if err != nil {
			return Value{}, fmt.Errorf("reading oplog at %d: %w", cursor, err)
		}
		if len(entries) == 0 {
			return Value{}, &golemerror.OplogError{
				WorkerID: h.workerID.String(),
				Reason:   fmt.Sprintf("replay expected an entry at index %d but found none", cursor),
			}
		}
		entry = entries[0]
		if isBookkeeping(entry.Kind) {
			// Bookkeeping entries interleaved between guest calls (resource
			// churn, GrowMemory, retry/update markers): fold them into the
			// resource table and keep scanning for the next
			// ImportedFunctionInvoked.
			h.resources.restore(entry)
			cursor = entry.Index + 1
			continue
		}
		break
	}
	if entry.Kind != oplog.KindImportedFunctionInvoked || entry.ImportedFunctionInvoked == nil {
		return Value{}, &golemerror.OplogError{
			WorkerID: h.workerID.String(),
			Reason:   fmt.Sprintf("replay expected ImportedFunctionInvoked at index %d, found %s", cursor, entry.Kind),
		}
	}
	recorded := entry.ImportedFunctionInvoked
	if recorded.FullName != functionName {
		// Function-name match on replay is mandatory: a mismatch means either an
		// incompatible update without a proper update plan, or a corrupted oplog.
		return Value{}, &golemerror.OplogError{
			WorkerID: h.workerID.String(),
			Reason:   fmt.Sprintf("replay name mismatch at index %d: recorded %q, guest called %q", cursor, recorded.FullName, functionName),
		}
	}
	value, err := Decode(recorded.ResponsePayload)
	if err != nil {
		return Value{}, fmt.Errorf("decoding replayed response for %s: %w", functionName, err)
	}

	h.mu.Lock()
	h.replayCursor = entry.Index + 1
	if h.replayCursor > h.replayTail {
		h.mode = Live
	}
	h.mu.Unlock()
	return value, nil
}

func (h *HostContext) dispatchLive(ctx context.Context, functionName string, durability oplog.DurableFunctionType, request Value, call Call) (Value, error) {
	result, callErr := call(ctx)
	if callErr != nil {
		// Retryable host-call failures (transient storage/network) do not
		// produce oplog entries; retry-in-place is left to the caller, which
		// typically re-invokes Dispatch itself.
		return Value{}, &golemerror.HostCallError{FunctionName: functionName, Err: callErr}
	}

	requestPayload, err := Encode(request)
	if err != nil {
		return Value{}, fmt.Errorf("encoding request for %s: %w", functionName, err)
	}
	responsePayload, err := Encode(result)
	if err != nil {
		return Value{}, fmt.Errorf("encoding response for %s: %w", functionName, err)
	}

	entry := oplog.Entry{
		Kind:      oplog.KindImportedFunctionInvoked,
		Timestamp: time.Now(),
		ImportedFunctionInvoked: &oplog.ImportedFunctionInvokedPayload{
			FullName:        functionName,
			RequestPayload:  requestPayload,
			ResponsePayload: responsePayload,
			FunctionType:    durability,
		},
	}
	level := oplog.Immediate
	if durability == oplog.WriteRemoteBatched {
		level = oplog.DurableOnly
	}
	if _, err := h.ol.Append(ctx, []oplog.Entry{entry}, level); err != nil {
		return Value{}, fmt.Errorf("appending ImportedFunctionInvoked for %s: %w", functionName, err)
	}
	return result, nil
}

// WithPersistenceOverride runs fn with the context in PersistNothing mode,
// restoring the previous mode on return. a PersistNothing scope may not
// enclose an open BeginRemoteWrite bracket — see BeginRemoteWrite below.
func (h *HostContext) WithPersistenceOverride(fn func() error) error {
	h.mu.Lock()
	previous := h.mode
	h.mode = PersistNothing
	h.mu.Unlock()

	err := fn()

	h.mu.Lock()
	h.mode = previous
	h.mu.Unlock()
	return err
}

// BeginRemoteWrite brackets a multi-entry external effect so replay can
// detect partial execution. It traps with a programming-error OplogError if
// called while PersistNothing is active (the Open Question resolution
// recorded with the decision log: the combination is forbidden rather than
// given silent-but-surprising semantics).
func (h *HostContext) BeginRemoteWrite(ctx context.Context, key string) (types.OplogIndex, error) {
	h.mu.Lock()
	if h.mode == PersistNothing {
		h.mu.Unlock()
		return 0, &golemerror.OplogError{
			WorkerID: h.workerID.String(),
			Reason:   "BeginRemoteWrite is not allowed inside a PersistNothing scope",
		}
	}
	mode := h.mode
	h.openRemoteKey = key
	h.mu.Unlock()

	if mode == Replay {
		entry, err := h.expectNext(ctx, oplog.KindBeginRemoteWrite)
		if err != nil {
			return 0, err
		}
		return entry.Index, nil
	}

	indices, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:             oplog.KindBeginRemoteWrite,
		Timestamp:        time.Now(),
		BeginRemoteWrite: &oplog.BeginRemoteWritePayload{Key: key},
	}}, oplog.Immediate)
	if err != nil {
		return 0, err
	}
	return indices[0], nil
}

// EndRemoteWrite closes the bracket opened at beginIndex.
func (h *HostContext) EndRemoteWrite(ctx context.Context, beginIndex types.OplogIndex) error {
	h.mu.Lock()
	mode := h.mode
	h.openRemoteKey = ""
	h.mu.Unlock()
	if mode == Replay {
		_, err := h.expectNext(ctx, oplog.KindEndRemoteWrite)
		return err
	}
	_, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:           oplog.KindEndRemoteWrite,
		Timestamp:      time.Now(),
		EndRemoteWrite: &oplog.EndRemoteWritePayload{BeginIndex: beginIndex},
	}}, oplog.Immediate)
	return err
}
