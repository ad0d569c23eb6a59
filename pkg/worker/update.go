package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/golem-io/worker-executor/pkg/component"
	"github.com/golem-io/worker-executor/pkg/events"
	"github.com/golem-io/worker-executor/pkg/host"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/types"
)

// UpdateMode selects between the two update flavors: a snapshot exchange
// through the component's reserved exports, or an automatic replay of the
// existing oplog onto the new version.
type UpdateMode string

const (
	UpdateSnapshot  UpdateMode = "snapshot"
	UpdateAutomatic UpdateMode = "automatic"
)

// Reserved exports a component implements to participate in snapshot-based
// updates. save returns an opaque snapshot the target version's load
// accepts; a component without them can only be updated automatically.
const (
	saveSnapshotExport = "golem:api/save-snapshot"
	loadSnapshotExport = "golem:api/load-snapshot"
)

// Update migrates the worker from its current component version to target.
// The operation is bracketed in the oplog: PendingUpdate first, then either
// SuccessfulUpdate once the new instance is live, or FailedUpdate with the
// version pointer untouched so the worker keeps serving on the old version.
func (e *Engine) Update(ctx context.Context, target types.ComponentVersion, mode UpdateMode) error {
	e.mu.Lock()
	if e.status != StatusIdle && e.status != StatusSuspended {
		st := e.status
		e.mu.Unlock()
		return fmt.Errorf("worker %s cannot update while %s", e.owned.WorkerId, st)
	}
	current := e.componentVersion
	oldInstance := e.instance
	e.mu.Unlock()

	if target <= current {
		return fmt.Errorf("target version %d is not newer than current version %d", target, current)
	}
	if oldInstance == nil {
		return fmt.Errorf("worker %s has no live instance to update", e.owned.WorkerId)
	}

	if _, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:          oplog.KindPendingUpdate,
		Timestamp:     time.Now(),
		PendingUpdate: &oplog.PendingUpdatePayload{TargetVersion: target, Kind: string(mode)},
	}}, oplog.Immediate); err != nil {
		return fmt.Errorf("appending PendingUpdate entry: %w", err)
	}
	e.deps.Events.Publish(&events.Event{Type: events.EventUpdateStarted, WorkerID: e.owned.WorkerId.String(), Message: fmt.Sprintf("to version %d (%s)", target, mode)})

	comp, err := e.deps.Components.Resolve(ctx, e.owned.WorkerId.ComponentId, target)
	if err != nil {
		return e.failUpdate(ctx, target, fmt.Errorf("resolving component %s@%d: %w", e.owned.WorkerId.ComponentId, target, err))
	}

	var snapshot []uint64
	var applyErr error
	switch mode {
	case UpdateSnapshot:
		snapshot, applyErr = e.applySnapshotUpdate(ctx, comp, oldInstance)
	case UpdateAutomatic:
		applyErr = e.applyAutomaticUpdate(ctx, comp)
	default:
		applyErr = fmt.Errorf("unknown update mode %q", mode)
	}
	if applyErr != nil {
		return e.failUpdate(ctx, target, applyErr)
	}

	e.mu.Lock()
	e.componentVersion = target
	e.memoryLimitBytes = comp.MemoryLimitBytes
	e.mu.Unlock()

	payload := &oplog.SuccessfulUpdatePayload{TargetVersion: target}
	if mode == UpdateSnapshot {
		// The stored snapshot is what makes the update durable: recovery
		// re-seeds the new version from it instead of replaying the
		// superseded history below this entry.
		payload.Snapshot = encodeArgs(snapshot)
	}
	indices, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:             oplog.KindSuccessfulUpdate,
		Timestamp:        time.Now(),
		SuccessfulUpdate: payload,
	}}, oplog.Immediate)
	if err != nil {
		return fmt.Errorf("appending SuccessfulUpdate entry: %w", err)
	}
	if mode == UpdateSnapshot {
		e.mu.Lock()
		e.resumeAfter = indices[0]
		e.resumeSnapshot = payload.Snapshot
		e.mu.Unlock()
	}
	e.deps.Events.Publish(&events.Event{Type: events.EventUpdateSucceeded, WorkerID: e.owned.WorkerId.String(), Message: fmt.Sprintf("now on version %d", target)})
	return nil
}

// failUpdate records the failure and leaves the version pointer (and the
// old instance) exactly where they were.
func (e *Engine) failUpdate(ctx context.Context, target types.ComponentVersion, cause error) error {
	if _, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:         oplog.KindFailedUpdate,
		Timestamp:    time.Now(),
		FailedUpdate: &oplog.FailedUpdatePayload{TargetVersion: target, Reason: cause.Error()},
	}}, oplog.Immediate); err != nil {
		e.logger.Warn().Err(err).Msg("appending FailedUpdate entry")
	}
	e.deps.Events.Publish(&events.Event{Type: events.EventUpdateFailed, WorkerID: e.owned.WorkerId.String(), Message: cause.Error()})
	return cause
}

// applySnapshotUpdate captures a snapshot from the running instance, builds
// an instance of the new version, feeds the snapshot into it, then swaps.
// The superseded history stays in the oplog (the cold-chunk compactor only
// compresses it; nothing here drops it); the SuccessfulUpdate entry's
// stored snapshot is what recovery resumes from.
func (e *Engine) applySnapshotUpdate(ctx context.Context, comp *component.Component, oldInstance *host.Instance) ([]uint64, error) {
	snapshot, err := oldInstance.CallRaw(ctx, saveSnapshotExport)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}

	// The snapshot supersedes all recorded history, so the new instance
	// starts at the live tail with nothing to replay.
	hostCtx := host.New(e.owned.WorkerId, e.ol, 0)
	e.attachPromises(hostCtx)
	newInstance, compiled, err := e.instantiate(ctx, comp, hostCtx)
	if err != nil {
		return nil, fmt.Errorf("instantiating version %d: %w", comp.Version, err)
	}
	if _, err := newInstance.CallRaw(ctx, loadSnapshotExport, snapshot...); err != nil {
		_ = newInstance.Close(ctx)
		return nil, fmt.Errorf("feeding snapshot to version %d: %w", comp.Version, err)
	}

	e.swapInstance(ctx, newInstance, compiled, hostCtx)
	return snapshot, nil
}

// applyAutomaticUpdate replays the worker's entire recorded history onto a
// fresh instance of the new version. Any host-call name mismatch along the
// way (the replay name-stability invariant) fails the update and the
// caller reverts.
func (e *Engine) applyAutomaticUpdate(ctx context.Context, comp *component.Component) error {
	tail, err := e.ol.Length(ctx)
	if err != nil {
		return fmt.Errorf("reading oplog length: %w", err)
	}
	e.mu.Lock()
	resumeAfter := e.resumeAfter
	resumeSnapshot := e.resumeSnapshot
	e.mu.Unlock()

	var hostCtx *host.HostContext
	if resumeAfter > 0 {
		hostCtx = host.NewResumed(e.owned.WorkerId, e.ol, resumeAfter+1, tail)
	} else {
		hostCtx = host.New(e.owned.WorkerId, e.ol, tail)
	}
	e.attachPromises(hostCtx)
	newInstance, compiled, err := e.instantiate(ctx, comp, hostCtx)
	if err != nil {
		return fmt.Errorf("instantiating version %d: %w", comp.Version, err)
	}
	if resumeAfter > 0 {
		// History below the last snapshot update was never recorded against
		// this lineage; re-seed before replaying what came after it.
		if _, err := newInstance.CallRaw(ctx, loadSnapshotExport, decodeArgs(resumeSnapshot)...); err != nil {
			_ = newInstance.Close(ctx)
			return fmt.Errorf("re-seeding snapshot into version %d: %w", comp.Version, err)
		}
	}
	if err := e.replayInto(ctx, newInstance, hostCtx, resumeAfter+1); err != nil {
		_ = newInstance.Close(ctx)
		return fmt.Errorf("replaying history onto version %d: %w", comp.Version, err)
	}

	e.swapInstance(ctx, newInstance, compiled, hostCtx)
	return nil
}

func (e *Engine) swapInstance(ctx context.Context, newInstance *host.Instance, compiled wazero.CompiledModule, hostCtx *host.HostContext) {
	e.mu.Lock()
	old := e.instance
	e.instance = newInstance
	e.compiled = compiled
	e.hostCtx = hostCtx
	e.mu.Unlock()
	if old != nil {
		if err := old.Close(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("closing superseded instance")
		}
	}
}

// ActivatePlugin records plugin activation on the worker's timeline so
// replay reconstructs the same active plugin set (WorkerMetadata "active
// plugin set").
func (e *Engine) ActivatePlugin(ctx context.Context, pluginID string) error {
	_, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindActivatePlugin,
		Timestamp: time.Now(),
		Plugin:    &oplog.PluginPayload{PluginID: pluginID},
	}}, oplog.Immediate)
	if err != nil {
		return fmt.Errorf("appending ActivatePlugin entry: %w", err)
	}
	e.mu.Lock()
	if e.activePlugins == nil {
		e.activePlugins = make(map[string]bool)
	}
	e.activePlugins[pluginID] = true
	e.mu.Unlock()
	return nil
}

// DeactivatePlugin is the inverse of ActivatePlugin; deactivating a plugin
// that is not active is a no-op entry, matching promise completion's
// idempotency style.
func (e *Engine) DeactivatePlugin(ctx context.Context, pluginID string) error {
	_, err := e.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindDeactivatePlugin,
		Timestamp: time.Now(),
		Plugin:    &oplog.PluginPayload{PluginID: pluginID},
	}}, oplog.Immediate)
	if err != nil {
		return fmt.Errorf("appending DeactivatePlugin entry: %w", err)
	}
	e.mu.Lock()
	delete(e.activePlugins, pluginID)
	e.mu.Unlock()
	return nil
}

func (e *Engine) activePluginList() []string {
	plugins := make([]string, 0, len(e.activePlugins))
	for id := range e.activePlugins {
		plugins = append(plugins, id)
	}
	sort.Strings(plugins)
	return plugins
}
