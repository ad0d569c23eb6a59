package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/golem-io/worker-executor/pkg/oplog"
)

// Runtime wraps a wazero runtime with golem's module cache: component bytes
// are compiled once per (componentID, version) and the compiled module is
// reused across every worker instance of that version: compile once,
// instantiate many.
type Runtime struct {
	rt wazero.Runtime

	mu      sync.Mutex
	modules map[string]wazero.CompiledModule
}

func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("instantiating wasi_snapshot_preview1: %w", err)
	}
	return &Runtime{rt: rt, modules: make(map[string]wazero.CompiledModule)}, nil
}

// Compile compiles wasmBytes once per cacheKey (componentID@version) and
// caches the result; a component's bytes are immutable once published, so
// the compiled module never needs invalidation.
func (r *Runtime) Compile(ctx context.Context, cacheKey string, wasmBytes []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	if m, ok := r.modules[cacheKey]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compiling component %s: %w", cacheKey, err)
	}

	r.mu.Lock()
	if existing, ok := r.modules[cacheKey]; ok {
		r.mu.Unlock()
		_ = compiled.Close(ctx)
		return existing, nil
	}
	r.modules[cacheKey] = compiled
	r.mu.Unlock()
	return compiled, nil
}

// Instance is one running worker's wazero module instance bound to its
// HostContext. Exported-function calls record (or, during replay, consume)
// their ExportedFunctionInvoked/Completed entries through it. Memory growth
// is not tracked here: pkg/worker's engine appends GrowMemory after each
// invocation.
type Instance struct {
	mod  api.Module
	host *HostContext
}

// Instantiate builds a module instance for host, naming it after the worker
// and wiring WASI stdout/stderr when given. No filesystem is mounted and no
// memory cap is configured on the module.
func (r *Runtime) Instantiate(ctx context.Context, compiled wazero.CompiledModule, host *HostContext, stdout, stderr io.Writer) (*Instance, error) {
	cfg := wazero.NewModuleConfig().
		WithStartFunctions(). // golem calls the init export explicitly, not _start
		WithName(host.workerID.String())
	if stdout != nil {
		cfg = cfg.WithStdout(stdout)
	}
	if stderr != nil {
		cfg = cfg.WithStderr(stderr)
	}

	mod, err := r.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", host.workerID.String(), err)
	}

	inst := &Instance{mod: mod, host: host}
	mod.Memory() // touch to ensure linear memory exists before first call
	return inst, nil
}

// Call invokes an exported function by name through the instance, recording
// an ExportedFunctionInvoked/Completed bracket in the oplog so a crash
// mid-call resumes cleanly on replay. If the instance's HostContext is still
// below its replay tail, the bracket is consumed from recorded history
// instead of appended (pkg/worker's recovery path uses this to re-drive
// every past invocation against a fresh instance); if the call runs past
// the tail partway through (a crash after the last recorded host call but
// before the completion record), the missing half of the bracket is
// appended live once Dispatch flips the context to Live mode.
func (inst *Instance) Call(ctx context.Context, functionName string, inputs []byte, idempotencyKey string, args []uint64) ([]uint64, error) {
	fn := inst.mod.ExportedFunction(functionName)
	if fn == nil {
		return nil, fmt.Errorf("component has no exported function %q", functionName)
	}

	if inst.host.Mode() == Replay {
		entry, err := inst.host.expectNext(ctx, oplog.KindExportedFunctionInvoked)
		if err != nil {
			return nil, err
		}
		if entry.ExportedFunctionInvoked == nil || entry.ExportedFunctionInvoked.FunctionName != functionName {
			return nil, fmt.Errorf("replay invocation name mismatch: recorded %q, requested %q",
				entry.ExportedFunctionInvoked.FunctionName, functionName)
		}
	} else {
		if err := inst.host.recordExportedInvoked(ctx, functionName, inputs, idempotencyKey); err != nil {
			return nil, fmt.Errorf("appending ExportedFunctionInvoked for %s: %w", functionName, err)
		}
	}

	results, callErr := fn.Call(ctx, args...)
	if callErr != nil {
		// A trapping guest call still needs an oplog record so replay knows the
		// invocation ended; leaves the failure itself to the caller (pkg/worker),
		// which decides retry vs permanent failure.
		if inst.host.Mode() == Replay {
			if _, err := inst.host.expectNext(ctx, oplog.KindError); err != nil {
				return nil, err
			}
		} else if err := inst.host.recordExportedError(ctx, callErr.Error()); err != nil {
			return nil, fmt.Errorf("appending Error for %s: %w", functionName, err)
		}
		return nil, callErr
	}

	if inst.host.Mode() == Replay {
		if _, err := inst.host.expectNext(ctx, oplog.KindExportedFunctionComplete); err != nil {
			return nil, err
		}
	} else {
		resultPayload, merr := json.Marshal(results)
		if merr != nil {
			return nil, fmt.Errorf("encoding results for %s: %w", functionName, merr)
		}
		if err := inst.host.recordExportedCompleted(ctx, resultPayload, 0); err != nil {
			return nil, fmt.Errorf("appending ExportedFunctionCompleted for %s: %w", functionName, err)
		}
	}

	return results, nil
}

// CallRaw invokes an exported function without recording an invocation
// bracket in the oplog. The worker engine's update path uses it for the
// snapshot exchange, which is bracketed by PendingUpdate/SuccessfulUpdate
// entries instead of an ExportedFunctionInvoked record.
func (inst *Instance) CallRaw(ctx context.Context, functionName string, args ...uint64) ([]uint64, error) {
	fn := inst.mod.ExportedFunction(functionName)
	if fn == nil {
		return nil, fmt.Errorf("component has no exported function %q", functionName)
	}
	return fn.Call(ctx, args...)
}

// MemorySize returns the instance's current linear memory size in bytes, or
// 0 for a component that declares no memory section at all.
func (inst *Instance) MemorySize() uint32 {
	mem := inst.mod.Memory()
	if mem == nil {
		return 0
	}
	return mem.Size()
}

// Close releases the instance's WASM memory and module references.
func (inst *Instance) Close(ctx context.Context) error {
	return inst.mod.Close(ctx)
}

// Close releases every compiled module and the underlying wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.modules {
		if err := m.Close(ctx); err != nil {
			return fmt.Errorf("closing compiled module %s: %w", key, err)
		}
	}
	return r.rt.Close(ctx)
}
