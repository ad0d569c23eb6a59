// Package worker implements the per-worker execution state machine:
// instantiating a WASM component behind pkg/host's durable dispatch,
// draining a per-worker FIFO invocation queue, retrying transient traps,
// enforcing the component's memory limit (fuel is not metered), and
// migrating a live worker between component versions. One goroutine per worker drains a command channel,
// which is what keeps each worker single-threaded from the guest's point
// of view.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"

	"github.com/golem-io/worker-executor/pkg/component"
	"github.com/golem-io/worker-executor/pkg/events"
	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/host"
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/metrics"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/promise"
	"github.com/golem-io/worker-executor/pkg/types"
)

// ExecutionStatus is the transient, in-memory lifecycle state: owned
// exclusively by the Engine, never trusted as durable truth.
// WorkerMetadata.Status is the derived, storage-resident projection of it.
type ExecutionStatus int

const (
	StatusRecovering ExecutionStatus = iota
	StatusRunning
	StatusIdle
	StatusSuspended
	StatusInterrupting
	StatusInterrupted
	StatusFailed
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusRecovering:
		return "recovering"
	case StatusRunning:
		return "running"
	case StatusIdle:
		return "idle"
	case StatusSuspended:
		return "suspended"
	case StatusInterrupting:
		return "interrupting"
	case StatusInterrupted:
		return "interrupted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ExecutionStatus) asWorkerStatus() types.WorkerStatus {
	switch s {
	case StatusRunning, StatusRecovering:
		return types.WorkerStatusRunning
	case StatusIdle:
		return types.WorkerStatusIdle
	case StatusSuspended:
		return types.WorkerStatusSuspended
	case StatusInterrupting, StatusInterrupted:
		return types.WorkerStatusInterrupted
	case StatusFailed:
		return types.WorkerStatusFailed
	default:
		return types.WorkerStatusRunning
	}
}

// InterruptKind classifies the cooperative-cancellation signal
type InterruptKind string

const (
	InterruptKindInterrupt InterruptKind = "interrupt"
	InterruptKindRestart   InterruptKind = "restart"
	InterruptKindSuspend   InterruptKind = "suspend"
	InterruptKindJump      InterruptKind = "jump"
)

// TrapClass is the outcome of classifying a guest trap or host-call error
// against the worker's retry policy.
type TrapClass int

const (
	ClassTransient TrapClass = iota
	ClassFatal
)

// Classifier decides whether a failed invocation should be retried in
// place or treated as a permanent failure. The default treats
// golemerror.HostCallError as transient (storage/network blips) and
// everything else as fatal; callers may supply a domain-specific
// classifier (e.g. one that inspects a trap's message for known-transient
// substrings).
type Classifier func(err error) TrapClass

func DefaultClassifier(err error) TrapClass {
	var hostErr *golemerror.HostCallError
	if asHostCallError(err, &hostErr) {
		return ClassTransient
	}
	return ClassFatal
}

func asHostCallError(err error, target **golemerror.HostCallError) bool {
	for err != nil {
		if hc, ok := err.(*golemerror.HostCallError); ok {
			*target = hc
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Invocation is one queued exported-function call ("per worker FIFO
// invocation queue").
type Invocation struct {
	FunctionName   string
	Args           []uint64
	Inputs         json.RawMessage
	IdempotencyKey string

	done chan invocationOutcome
}

type invocationOutcome struct {
	results []uint64
	err     error
}

// Deps bundles an Engine's collaborators: every other core component it
// needs to drive one worker's lifecycle.
type Deps struct {
	Oplogs     *oplog.Factory
	Components *component.Service
	Files      *component.FileLoader
	Runtime    *host.Runtime
	Promises   *promise.Service
	Events     *events.Broker
	Classify   Classifier
}

// Engine is the single-goroutine state machine driving one worker: it owns
// the worker's WASM instance and ExecutionStatus exclusively (ownership
// rules), with all other state reachable only through its oplog.
type Engine struct {
	owned    types.OwnedWorkerId
	deps     Deps
	logger   zerolog.Logger

	mu               sync.Mutex
	status           ExecutionStatus
	interruptKind    InterruptKind
	interruptPending bool
	retryCount       int
	lastError        string
	componentVersion types.ComponentVersion
	memoryLimitBytes uint64
	retryPolicy      types.RetryPolicy
	activePlugins    map[string]bool

	// resumeAfter/resumeSnapshot track the latest snapshot-based update:
	// history at or below resumeAfter is superseded by the stored snapshot
	// and must never be replayed onto a fresh instance again.
	resumeAfter    types.OplogIndex
	resumeSnapshot json.RawMessage

	ol       oplog.Oplog
	hostCtx  *host.HostContext
	instance *host.Instance
	compiled wazero.CompiledModule

	cancelActive context.CancelFunc
	queue        chan *Invocation
	stopCh       chan struct{}
	drainOnce    sync.Once
}

// NewEngine constructs an Engine bound to owned, opening (but not yet
// recovering) its oplog.
func NewEngine(ctx context.Context, owned types.OwnedWorkerId, deps Deps) (*Engine, error) {
	if deps.Classify == nil {
		deps.Classify = DefaultClassifier
	}
	ol, err := deps.Oplogs.Open(ctx, owned.WorkerId.String())
	if err != nil {
		return nil, fmt.Errorf("opening oplog for %s: %w", owned.WorkerId, err)
	}
	return &Engine{
		owned:  owned,
		deps:   deps,
		logger: log.WithComponent("worker").With().Str("worker_id", owned.WorkerId.String()).Logger(),
		status: StatusRecovering,
		ol:     ol,
		queue:  make(chan *Invocation, 256),
		stopCh: make(chan struct{}),
	}, nil
}

// WorkerID returns the identity of the worker this Engine drives.
func (e *Engine) WorkerID() types.WorkerId { return e.owned.WorkerId }

// Status returns the Engine's current transient execution status.
func (e *Engine) Status() ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Metadata recomputes the durable WorkerMetadata projection from the
// Engine's current in-memory state, for fast status-query scans.
func (e *Engine) Metadata() types.WorkerMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.WorkerMetadata{
		OwnedWorkerId:    e.owned,
		ComponentVersion: e.componentVersion,
		Status:           e.status.asWorkerStatus(),
		RetryPolicy:      e.retryPolicy,
		LastError:        e.lastError,
		ActivePlugins:    e.activePluginList(),
	}
}

// Create appends the Create oplog entry for a brand-new worker, stages its
// initial files, and leaves the Engine in Recovering state ready for
// Recover to instantiate it.
func (e *Engine) Create(ctx context.Context, version types.ComponentVersion, args []string, env map[string]string, retryPolicy types.RetryPolicy) error {
	filesHash, err := e.deps.Files.Stage(ctx, e.owned.WorkerId, e.owned.WorkerId.ComponentId, version)
	if err != nil {
		return fmt.Errorf("staging initial files: %w", err)
	}
	metadata := types.WorkerMetadata{
		OwnedWorkerId:    e.owned,
		ComponentVersion: version,
		Args:             args,
		Env:              env,
		Status:           types.WorkerStatusRunning,
		RetryPolicy:      retryPolicy,
		CreatedAt:        time.Now(),
	}
	_, err = e.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindCreate,
		Timestamp: time.Now(),
		Create: &oplog.CreatePayload{
			Metadata:         metadata,
			ComponentVersion: version,
			InitialFilesHash: filesHash,
		},
	}}, oplog.Immediate)
	if err != nil {
		return fmt.Errorf("appending Create entry: %w", err)
	}
	e.mu.Lock()
	e.componentVersion = version
	e.retryPolicy = retryPolicy
	e.mu.Unlock()
	e.deps.Events.Publish(&events.Event{Type: events.EventWorkerCreated, WorkerID: e.owned.WorkerId.String()})
	return nil
}

// Recover drives the Recovering→Live transition: it reads the oplog from
// index 1, resolves the worker's pinned component version from its Create
// entry, instantiates a fresh WASM module, and re-executes every previously
// recorded exported invocation in order so the guest's internal state
// converges to what it was before the crash/eviction/suspend. Every host
// import call made along the way is served by pkg/host.Dispatch from
// recorded history until the replay cursor reaches the tail, at which point
// the HostContext flips itself to Live and any in-flight invocation
// finishes by talking to real backends.
func (e *Engine) Recover(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)

	tail, err := e.ol.Length(ctx)
	if err != nil {
		return fmt.Errorf("reading oplog length: %w", err)
	}

	createEntries, err := e.ol.Read(ctx, 1, 1)
	if err != nil || len(createEntries) == 0 || createEntries[0].Create == nil {
		return &golemerror.OplogError{WorkerID: e.owned.WorkerId.String(), Reason: "missing Create entry at index 1"}
	}
	create := createEntries[0].Create

	// A recorded SuccessfulUpdate moves the effective version pointer past
	// the Create entry's; a snapshot-kind update additionally supersedes
	// everything recorded before it, so replay resumes just after it with
	// the guest re-seeded from the stored snapshot.
	version := create.ComponentVersion
	var snapshot json.RawMessage
	var resumeAfter types.OplogIndex
	allEntries, err := e.ol.Read(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("reading oplog for recovery: %w", err)
	}
	for _, entry := range allEntries {
		if entry.Kind == oplog.KindSuccessfulUpdate && entry.SuccessfulUpdate != nil {
			version = entry.SuccessfulUpdate.TargetVersion
			if len(entry.SuccessfulUpdate.Snapshot) > 0 {
				snapshot = entry.SuccessfulUpdate.Snapshot
				resumeAfter = entry.Index
			}
		}
	}

	comp, err := e.deps.Components.Resolve(ctx, e.owned.WorkerId.ComponentId, version)
	if err != nil {
		return fmt.Errorf("resolving component %s@%d: %w", e.owned.WorkerId.ComponentId, version, err)
	}

	var hostCtx *host.HostContext
	if resumeAfter > 0 {
		hostCtx = host.NewResumed(e.owned.WorkerId, e.ol, resumeAfter+1, tail)
	} else {
		hostCtx = host.New(e.owned.WorkerId, e.ol, tail)
	}
	e.attachPromises(hostCtx)

	instance, compiled, err := e.instantiate(ctx, comp, hostCtx)
	if err != nil {
		e.fail(err)
		return err
	}
	if resumeAfter > 0 {
		if _, err := instance.CallRaw(ctx, loadSnapshotExport, decodeArgs(snapshot)...); err != nil {
			e.fail(fmt.Errorf("re-seeding snapshot into version %d: %w", version, err))
			return err
		}
	}

	e.mu.Lock()
	e.hostCtx = hostCtx
	e.instance = instance
	e.compiled = compiled
	e.componentVersion = version
	e.memoryLimitBytes = comp.MemoryLimitBytes
	e.retryPolicy = create.Metadata.RetryPolicy
	e.resumeAfter = resumeAfter
	e.resumeSnapshot = snapshot
	e.status = StatusRunning
	e.mu.Unlock()

	if err := e.replayInto(ctx, instance, hostCtx, resumeAfter+1); err != nil {
		e.fail(err)
		return err
	}
	if err := e.restoreMarkers(ctx); err != nil {
		e.fail(err)
		return err
	}

	e.setIdle()
	go e.run(ctx)
	return nil
}

func (e *Engine) instantiate(ctx context.Context, comp *component.Component, hostCtx *host.HostContext) (*host.Instance, wazero.CompiledModule, error) {
	cacheKey := fmt.Sprintf("%s@%d", comp.ID, comp.Version)
	compiled, err := e.deps.Runtime.Compile(ctx, cacheKey, comp.WasmBytes)
	if err != nil {
		return nil, nil, err
	}
	instance, err := e.deps.Runtime.Instantiate(ctx, compiled, hostCtx, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	return instance, compiled, nil
}

// replayInto walks the oplog re-issuing every ExportedFunctionInvoked
// entry recorded at or after from against instance via Instance.Call,
// which itself consumes (rather than appends) the recorded
// Invoked/Completed/Error brackets through hostCtx until the replay
// cursor reaches Live. Recovery uses it on the worker's pinned version;
// the update path reuses it to replay the same history onto a new one.
func (e *Engine) replayInto(ctx context.Context, instance *host.Instance, hostCtx *host.HostContext, from types.OplogIndex) error {
	if from < 1 {
		from = 1
	}
	entries, err := e.ol.Read(ctx, from, 0)
	if err != nil {
		return fmt.Errorf("reading oplog for replay: %w", err)
	}
	for _, entry := range entries {
		if entry.Kind != oplog.KindExportedFunctionInvoked || entry.ExportedFunctionInvoked == nil {
			continue
		}
		metrics.ReplayedEntriesTotal.Inc()
		args := decodeArgs(entry.ExportedFunctionInvoked.Inputs)
		_, err := instance.Call(ctx, entry.ExportedFunctionInvoked.FunctionName,
			entry.ExportedFunctionInvoked.Inputs, entry.ExportedFunctionInvoked.IdempotencyKey, args)
		if err != nil {
			// A trap recorded during a past, already-completed invocation is
			// expected to replay identically (determinism,); propagate so Recover
			// can fail the worker loudly rather than silently diverge.
			return fmt.Errorf("replaying invocation %s: %w", entry.ExportedFunctionInvoked.FunctionName, err)
		}
		if hostCtx.Mode() == host.Live {
			// Caught up to the tail mid-scan: remaining history (if any)
			// will be consumed by subsequent queued invocations instead.
			return nil
		}
	}
	// The last recorded invocation's Completed/Error bracket may not be the
	// final oplog entry: a worker that last stopped on a Suspend marker (or
	// other bookkeeping) still has to drain past it before Dispatch will
	// accept new, non-replayed host calls.
	return hostCtx.DrainToLive(ctx)
}

// promiseAdapter scopes the shared promise service to one worker, the
// shape host.PromiseBackend wants.
type promiseAdapter struct {
	svc    *promise.Service
	worker types.WorkerId
}

func (a promiseAdapter) Create(ctx context.Context, idx types.OplogIndex) error {
	return a.svc.Create(ctx, promise.ID{WorkerID: a.worker, OplogIndex: idx})
}

func (a promiseAdapter) Await(ctx context.Context, idx types.OplogIndex) (json.RawMessage, error) {
	return a.svc.Await(ctx, promise.ID{WorkerID: a.worker, OplogIndex: idx})
}

// attachPromises wires the shared promise service (when configured) into a
// freshly built HostContext, scoped to this worker.
func (e *Engine) attachPromises(hostCtx *host.HostContext) {
	if e.deps.Promises == nil {
		return
	}
	hostCtx.SetPromiseBackend(promiseAdapter{svc: e.deps.Promises, worker: e.owned.WorkerId})
}

// restoreMarkers rebuilds the engine state carried by marker entries
// (active plugin set, retry count) that replayInto deliberately skips.
func (e *Engine) restoreMarkers(ctx context.Context) error {
	entries, err := e.ol.Read(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("reading oplog for marker restore: %w", err)
	}
	plugins := make(map[string]bool)
	retries := 0
	for _, entry := range entries {
		switch entry.Kind {
		case oplog.KindActivatePlugin:
			if entry.Plugin != nil {
				plugins[entry.Plugin.PluginID] = true
			}
		case oplog.KindDeactivatePlugin:
			if entry.Plugin != nil {
				delete(plugins, entry.Plugin.PluginID)
			}
		case oplog.KindChangeRetryPolicy:
			retries++
		}
	}
	e.mu.Lock()
	e.activePlugins = plugins
	e.retryCount = retries
	e.mu.Unlock()
	return nil
}

// decodeArgs turns the JSON-encoded Inputs recorded on an
// ExportedFunctionInvoked entry back into the []uint64 wasm calling
// convention args. Components declare their own argument marshaling; this
// worker-level encoding is a flat array of raw wasm words, sufficient for
// every exported function shape this design exercises end-to-end.
func decodeArgs(raw json.RawMessage) []uint64 {
	if len(raw) == 0 {
		return nil
	}
	var args []uint64
	_ = json.Unmarshal(raw, &args)
	return args
}

func encodeArgs(args []uint64) json.RawMessage {
	raw, _ := json.Marshal(args)
	return raw
}

// Invoke enqueues functionName for execution on the worker's FIFO queue
// and blocks until it completes, runs into a retry loop, or ctx is
// cancelled.
func (e *Engine) Invoke(ctx context.Context, functionName string, args []uint64, idempotencyKey string) ([]uint64, error) {
	inv := &Invocation{
		FunctionName:   functionName,
		Args:           args,
		Inputs:         encodeArgs(args),
		IdempotencyKey: idempotencyKey,
		done:           make(chan invocationOutcome, 1),
	}
	select {
	case e.queue <- inv:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopCh:
		return nil, &golemerror.InterruptedError{WorkerID: e.owned.WorkerId.String(), Kind: "stopped"}
	}
	select {
	case out := <-inv.done:
		return out.results, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run drains the invocation queue one call at a time, the single point of
// serialization that keeps the oplog single-writer per worker.
func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case inv := <-e.queue:
			e.process(ctx, inv)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) process(ctx context.Context, inv *Invocation) {
	e.mu.Lock()
	if e.status == StatusFailed || e.status == StatusInterrupted || e.interruptPending {
		e.mu.Unlock()
		inv.done <- invocationOutcome{err: &golemerror.InterruptedError{WorkerID: e.owned.WorkerId.String(), Kind: "not_runnable"}}
		return
	}
	e.status = StatusRunning
	callCtx, cancel := context.WithCancel(ctx)
	e.cancelActive = cancel
	e.mu.Unlock()
	defer cancel()

	e.deps.Events.Publish(&events.Event{Type: events.EventInvocationStarted, WorkerID: e.owned.WorkerId.String(), Message: inv.FunctionName})
	timer := metrics.NewTimer()

	policy := e.currentRetryPolicy()
	delay := policy.MinDelay
	var lastErr error
	for attempt := 0; attempt < maxAttempts(policy); attempt++ {
		before := e.instance.MemorySize()
		attemptStart, idxErr := e.ol.CurrentIndex(ctx)
		results, err := e.instance.Call(callCtx, inv.FunctionName, inv.Inputs, inv.IdempotencyKey, inv.Args)
		if err == nil {
			e.onMemoryGrowth(ctx, before)
			if e.Status() == StatusFailed {
				// onMemoryGrowth failed the worker for exceeding its memory limit.
				e.mu.Lock()
				limitErr := &golemerror.ResourceLimitError{WorkerID: e.owned.WorkerId.String(), Resource: "memory", Limit: e.memoryLimitBytes}
				e.mu.Unlock()
				timer.ObserveDurationVec(metrics.InvocationDuration, "failure")
				metrics.InvocationsTotal.WithLabelValues("failure").Inc()
				inv.done <- invocationOutcome{err: limitErr}
				return
			}
			timer.ObserveDurationVec(metrics.InvocationDuration, "success")
			metrics.InvocationsTotal.WithLabelValues("success").Inc()
			e.deps.Events.Publish(&events.Event{Type: events.EventInvocationComplete, WorkerID: e.owned.WorkerId.String(), Message: inv.FunctionName})
			e.setIdle()
			inv.done <- invocationOutcome{results: results}
			return
		}
		lastErr = err
		if e.isInterrupted(callCtx) {
			break
		}
		if e.deps.Classify(err) != ClassTransient || attempt == maxAttempts(policy)-1 {
			break
		}
		// Hide the failed attempt's Invoked/Error bracket behind a Revert
		// marker so replay re-executes only the attempt that eventually
		// succeeded, at the same oplog position.
		if idxErr == nil && e.hostCtx.Mode() == host.Live && attemptStart > 1 {
			if rerr := e.ol.Revert(ctx, attemptStart-1); rerr != nil {
				e.logger.Warn().Err(rerr).Msg("reverting failed invocation attempt")
			}
		}
		e.recordRetry(ctx)
		select {
		case <-time.After(delay):
		case <-callCtx.Done():
		}
		delay = nextDelay(delay, policy)
	}

	timer.ObserveDurationVec(metrics.InvocationDuration, "failure")
	metrics.InvocationsTotal.WithLabelValues("failure").Inc()
	e.deps.Events.Publish(&events.Event{Type: events.EventInvocationFailed, WorkerID: e.owned.WorkerId.String(), Message: lastErr.Error()})

	if e.isInterrupted(callCtx) {
		e.setInterrupted()
	} else {
		e.fail(lastErr)
	}
	inv.done <- invocationOutcome{err: lastErr}
}

func (e *Engine) currentRetryPolicy() types.RetryPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryPolicy
}

func maxAttempts(p types.RetryPolicy) int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func nextDelay(delay time.Duration, p types.RetryPolicy) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	next := time.Duration(float64(delay) * mult)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	if next <= 0 {
		next = p.MinDelay
	}
	return next
}

// recordRetry appends a ChangeRetryPolicy marker entry so the retry count
// is itself part of the oplog: replay observes the same number of attempts
// rather than re-deriving it from wall-clock timing.
func (e *Engine) recordRetry(ctx context.Context) {
	e.mu.Lock()
	e.retryCount++
	policy := e.retryPolicy
	e.mu.Unlock()
	if e.hostCtx.Mode() == host.Live {
		_, _ = e.ol.Append(ctx, []oplog.Entry{{
			Kind:              oplog.KindChangeRetryPolicy,
			Timestamp:         time.Now(),
			ChangeRetryPolicy: &oplog.ChangeRetryPolicyPayload{Policy: policy},
		}}, oplog.DurableOnly)
	}
}

func (e *Engine) isInterrupted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interruptPending
}

// onMemoryGrowth appends a GrowMemory entry when an invocation increased
// the instance's linear memory, and fails the worker with a
// ResourceLimitError if the growth would exceed the component's declared
// memory limit ("Memory").
func (e *Engine) onMemoryGrowth(ctx context.Context, before uint32) {
	after := e.instance.MemorySize()
	if after <= before {
		return
	}
	delta := uint64(after - before)
	e.mu.Lock()
	limit := e.memoryLimitBytes
	e.mu.Unlock()
	if limit > 0 && uint64(after) > limit {
		e.fail(&golemerror.ResourceLimitError{WorkerID: e.owned.WorkerId.String(), Resource: "memory", Limit: limit})
		return
	}
	if e.hostCtx.Mode() == host.Live {
		_, _ = e.ol.Append(ctx, []oplog.Entry{{
			Kind:       oplog.KindGrowMemory,
			Timestamp:  time.Now(),
			GrowMemory: &oplog.GrowMemoryPayload{Delta: delta},
		}}, oplog.DurableOnly)
	}
}

// Interrupt signals cooperative cancellation: it records kind, cancels the
// in-flight invocation and moves the worker to Interrupting (Interrupted
// once an in-flight invocation stops). Every kind, InterruptKindSuspend
// included, leaves the instance in place; the worker is not suspended.
func (e *Engine) Interrupt(ctx context.Context, kind InterruptKind) error {
	e.mu.Lock()
	e.interruptKind = kind
	e.interruptPending = true
	cancel := e.cancelActive
	e.status = StatusInterrupting
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:        oplog.KindInterrupted,
		Timestamp:   time.Now(),
		Interrupted: &oplog.InterruptedPayload{Kind: string(kind)},
	}}, oplog.Immediate)
	return err
}

func (e *Engine) setInterrupted() {
	e.mu.Lock()
	e.status = StatusInterrupted
	e.interruptPending = false
	e.mu.Unlock()
	e.deps.Events.Publish(&events.Event{Type: events.EventWorkerInterrupted, WorkerID: e.owned.WorkerId.String()})
}

func (e *Engine) setIdle() {
	e.mu.Lock()
	e.status = StatusIdle
	e.mu.Unlock()
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.status = StatusFailed
	e.lastError = err.Error()
	e.mu.Unlock()
	e.logger.Error().Err(err).Msg("worker failed")
	e.deps.Events.Publish(&events.Event{Type: events.EventWorkerFailed, WorkerID: e.owned.WorkerId.String(), Message: err.Error()})
}

// Suspend tears down the running WASM instance (awaiting an unresolved
// promise, a sleep, or an eviction decision), recording a Suspend entry so
// the next Recover call knows why the worker last stopped running. The
// instance itself carries no durable state beyond what the oplog already
// has, so Suspend never needs to persist anything but the marker.
func (e *Engine) Suspend(ctx context.Context, reason string) error {
	e.mu.Lock()
	instance := e.instance
	e.status = StatusSuspended
	e.mu.Unlock()

	_, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindSuspend,
		Timestamp: time.Now(),
		Suspend:   &oplog.SuspendPayload{Reason: reason},
	}}, oplog.Immediate)
	if err != nil {
		return fmt.Errorf("appending Suspend entry: %w", err)
	}
	if instance != nil {
		if cerr := instance.Close(ctx); cerr != nil {
			e.logger.Warn().Err(cerr).Msg("closing instance on suspend")
		}
	}
	e.drainOnce.Do(func() { close(e.stopCh) })
	e.deps.Events.Publish(&events.Event{Type: events.EventWorkerSuspended, WorkerID: e.owned.WorkerId.String()})
	return nil
}

// Stop halts the invocation loop and releases the WASM instance without
// recording a Suspend marker, used when the engine is being torn down by
// the registry (eviction, shard loss) rather than suspending on the
// worker's own schedule.
func (e *Engine) Stop(ctx context.Context) error {
	e.drainOnce.Do(func() { close(e.stopCh) })
	e.mu.Lock()
	instance := e.instance
	e.mu.Unlock()
	if instance == nil {
		return nil
	}
	return instance.Close(ctx)
}
