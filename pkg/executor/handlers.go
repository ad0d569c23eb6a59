package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golem-io/worker-executor/pkg/enumeration"
	"github.com/golem-io/worker-executor/pkg/events"
	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/host"
	"github.com/golem-io/worker-executor/pkg/promise"
	"github.com/golem-io/worker-executor/pkg/registry"
	"github.com/golem-io/worker-executor/pkg/rpc"
	"github.com/golem-io/worker-executor/pkg/types"
	"github.com/golem-io/worker-executor/pkg/worker"
)

// Executor implements rpc.WorkerExecutorServer. Every per-worker handler
// follows the same shape: shard-ownership guard first (Redirect), then the
// operation, then classification of any error into the wire GolemError
// taxonomy. Connect and the two worker-listing handlers have no ownership
// guard.

// redirect returns the owning shard for id when this node does not own it.
func (e *Executor) redirect(id types.WorkerId) (uint32, bool) {
	if e.fabric.Owns(id) {
		return 0, false
	}
	return e.shard.OwnerHint(id), true
}

// ensureRunnable evicts a resident engine that was suspended, so the next
// resolve recovers a fresh instance from the oplog tail instead of hitting
// the torn-down one.
func (e *Executor) ensureRunnable(id types.WorkerId) {
	if eng, ok := e.registry.Get(id); ok && eng.Status() == worker.StatusSuspended {
		e.registry.Remove(id)
	}
}

// resolveEngine returns the resident Engine for owned, recovering it from
// its oplog if necessary.
func (e *Executor) resolveEngine(ctx context.Context, owned types.OwnedWorkerId) (registry.Engine, error) {
	return e.registry.GetOrCreate(ctx, owned.WorkerId, func() (registry.Engine, error) {
		return e.createOrRecover(ctx, owned)
	})
}

func (e *Executor) CreateWorker(ctx context.Context, req *rpc.CreateWorkerRequest) (rpc.Response[rpc.CreateWorkerResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.CreateWorkerResponse](shard), nil
	}
	if _, err := e.getCachedMetadata(ctx, req.OwnedWorkerId); err == nil {
		return rpc.Fail[rpc.CreateWorkerResponse](rpc.GolemError{Kind: "internal", Message: fmt.Sprintf("worker %s already exists", req.OwnedWorkerId.WorkerId)}), nil
	}

	eng, err := worker.NewEngine(ctx, req.OwnedWorkerId, e.engineDeps())
	if err != nil {
		return rpc.Fail[rpc.CreateWorkerResponse](classify(err)), nil
	}
	policy := types.DefaultRetryPolicy()
	policy.MinDelay = e.cfg.RetryMin
	policy.MaxDelay = e.cfg.RetryMax
	if err := eng.Create(ctx, req.ComponentVersion, req.Args, req.Env, policy); err != nil {
		return rpc.Fail[rpc.CreateWorkerResponse](classify(err)), nil
	}
	if err := eng.Recover(ctx); err != nil {
		return rpc.Fail[rpc.CreateWorkerResponse](classify(err)), nil
	}
	if _, err := e.registry.GetOrCreate(ctx, req.OwnedWorkerId.WorkerId, func() (registry.Engine, error) {
		return eng, nil
	}); err != nil {
		return rpc.Fail[rpc.CreateWorkerResponse](classify(err)), nil
	}
	e.putMetadata(ctx, eng)
	return rpc.Ok(rpc.CreateWorkerResponse{WorkerId: req.OwnedWorkerId.WorkerId}), nil
}

func (e *Executor) InvokeAndAwait(ctx context.Context, req *rpc.InvokeAndAwaitRequest) (rpc.Response[rpc.InvokeAndAwaitResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.InvokeAndAwaitResponse](shard), nil
	}
	e.ensureRunnable(req.OwnedWorkerId.WorkerId)
	results, err := e.fabric.InvokeAndAwait(ctx, req.OwnedWorkerId, req.FunctionName, req.Args, req.IdempotencyKey)
	if err != nil {
		return rpc.Fail[rpc.InvokeAndAwaitResponse](classify(err)), nil
	}
	if eng, ok := e.registry.Get(req.OwnedWorkerId.WorkerId); ok {
		e.putMetadata(ctx, eng)
	}
	return rpc.Ok(rpc.InvokeAndAwaitResponse{Results: results}), nil
}

func (e *Executor) InvokeAndAwaitTyped(ctx context.Context, req *rpc.InvokeAndAwaitTypedRequest) (rpc.Response[rpc.InvokeAndAwaitTypedResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.InvokeAndAwaitTypedResponse](shard), nil
	}
	e.ensureRunnable(req.OwnedWorkerId.WorkerId)
	args, err := lowerTypedArgs(req.Args)
	if err != nil {
		return rpc.Fail[rpc.InvokeAndAwaitTypedResponse](rpc.GolemError{Kind: "internal", Message: err.Error()}), nil
	}
	results, err := e.fabric.InvokeAndAwait(ctx, req.OwnedWorkerId, req.FunctionName, args, req.IdempotencyKey)
	if err != nil {
		return rpc.Fail[rpc.InvokeAndAwaitTypedResponse](classify(err)), nil
	}
	raw, err := liftTypedResults(results)
	if err != nil {
		return rpc.Fail[rpc.InvokeAndAwaitTypedResponse](rpc.GolemError{Kind: "internal", Message: err.Error()}), nil
	}
	return rpc.Ok(rpc.InvokeAndAwaitTypedResponse{Result: raw}), nil
}

// lowerTypedArgs flattens a JSON-encoded list of typed values (pkg/host's
// Value sum type) into the flat wasm-word calling convention worker.Engine
// speaks. Only primitive shapes lower directly; aggregates travel through
// linear memory, which components declare in their own ABI and is out of
// scope for the executor surface.
func lowerTypedArgs(raw json.RawMessage) ([]uint64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var values []host.Value
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decoding typed arguments: %w", err)
	}
	args := make([]uint64, 0, len(values))
	for i, v := range values {
		word, err := lowerValue(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, word)
	}
	return args, nil
}

func lowerValue(v host.Value) (uint64, error) {
	switch v.Kind {
	case host.KindBool:
		if v.Bool != nil && *v.Bool {
			return 1, nil
		}
		return 0, nil
	case host.KindU8, host.KindU16, host.KindU32, host.KindU64:
		if v.Uint == nil {
			return 0, fmt.Errorf("missing unsigned payload for %s", v.Kind)
		}
		return *v.Uint, nil
	case host.KindS8, host.KindS16, host.KindS32, host.KindS64:
		if v.Int == nil {
			return 0, fmt.Errorf("missing signed payload for %s", v.Kind)
		}
		return uint64(*v.Int), nil
	case host.KindF32, host.KindF64:
		if v.Float == nil {
			return 0, fmt.Errorf("missing float payload for %s", v.Kind)
		}
		return math.Float64bits(*v.Float), nil
	case host.KindHandle:
		if v.Handle == nil {
			return 0, fmt.Errorf("missing handle id")
		}
		return *v.Handle, nil
	default:
		return 0, fmt.Errorf("cannot lower %s to a wasm word", v.Kind)
	}
}

func liftTypedResults(results []uint64) (json.RawMessage, error) {
	values := make([]host.Value, 0, len(results))
	for _, r := range results {
		values = append(values, host.U64Value(r))
	}
	return json.Marshal(values)
}

func (e *Executor) Invoke(ctx context.Context, req *rpc.InvokeRequest) (rpc.Response[rpc.InvokeResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.InvokeResponse](shard), nil
	}
	e.ensureRunnable(req.OwnedWorkerId.WorkerId)
	if err := e.fabric.Invoke(ctx, req.OwnedWorkerId, req.FunctionName, req.Args, req.IdempotencyKey); err != nil {
		return rpc.Fail[rpc.InvokeResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.InvokeResponse{}), nil
}

// Connect streams the worker's lifecycle/invocation/log events until the
// client hangs up.
func (e *Executor) Connect(req *rpc.ConnectRequest, stream rpc.LogStream) error {
	sub := e.broker.Subscribe()
	defer e.broker.Unsubscribe(sub)

	workerID := req.OwnedWorkerId.WorkerId.String()
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case event, ok := <-sub:
			if !ok {
				return nil
			}
			if event.WorkerID != workerID {
				continue
			}
			if err := stream.Send(&rpc.LogEvent{
				Type:      string(event.Type),
				Message:   event.Message,
				Timestamp: event.Timestamp.Format(time.RFC3339Nano),
			}); err != nil {
				return err
			}
		}
	}
}

func (e *Executor) Interrupt(ctx context.Context, req *rpc.InterruptRequest) (rpc.Response[rpc.InterruptResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.InterruptResponse](shard), nil
	}
	eng, ok := e.registry.Get(req.OwnedWorkerId.WorkerId)
	if !ok {
		// Nothing resident: an interrupt of a worker that is not running is
		// a no-op, matching promise completion's idempotency style.
		return rpc.Ok(rpc.InterruptResponse{}), nil
	}
	kind := worker.InterruptKind(req.Kind)
	if kind == "" {
		kind = worker.InterruptKindInterrupt
	}
	if err := eng.Interrupt(ctx, kind); err != nil {
		return rpc.Fail[rpc.InterruptResponse](classify(err)), nil
	}
	e.putMetadata(ctx, eng)
	return rpc.Ok(rpc.InterruptResponse{}), nil
}

func (e *Executor) Resume(ctx context.Context, req *rpc.ResumeRequest) (rpc.Response[rpc.ResumeResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.ResumeResponse](shard), nil
	}
	e.ensureRunnable(req.OwnedWorkerId.WorkerId)
	eng, err := e.resolveEngine(ctx, req.OwnedWorkerId)
	if err != nil {
		return rpc.Fail[rpc.ResumeResponse](classify(err)), nil
	}
	e.putMetadata(ctx, eng)
	return rpc.Ok(rpc.ResumeResponse{}), nil
}

func (e *Executor) Update(ctx context.Context, req *rpc.UpdateRequest) (rpc.Response[rpc.UpdateResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.UpdateResponse](shard), nil
	}
	e.ensureRunnable(req.OwnedWorkerId.WorkerId)
	eng, err := e.resolveEngine(ctx, req.OwnedWorkerId)
	if err != nil {
		return rpc.Fail[rpc.UpdateResponse](classify(err)), nil
	}
	upd, ok := eng.(interface {
		Update(ctx context.Context, target types.ComponentVersion, mode worker.UpdateMode) error
	})
	if !ok {
		return rpc.Fail[rpc.UpdateResponse](rpc.GolemError{Kind: "internal", Message: "resident engine does not support updates"}), nil
	}
	if err := upd.Update(ctx, req.TargetVersion, worker.UpdateMode(req.Mode)); err != nil {
		return rpc.Fail[rpc.UpdateResponse](classify(err)), nil
	}
	e.putMetadata(ctx, eng)
	return rpc.Ok(rpc.UpdateResponse{}), nil
}

func (e *Executor) Delete(ctx context.Context, req *rpc.DeleteRequest) (rpc.Response[rpc.DeleteResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.DeleteResponse](shard), nil
	}
	id := req.OwnedWorkerId.WorkerId
	if eng, ok := e.registry.Get(id); ok {
		if err := eng.Stop(ctx); err != nil {
			e.logger.Warn().Err(err).Str("worker_id", id.String()).Msg("stopping engine on delete")
		}
		e.registry.Remove(id)
	}
	if err := e.metadata.Delete(ctx, req.OwnedWorkerId); err != nil {
		e.logger.Warn().Err(err).Str("worker_id", id.String()).Msg("deleting worker metadata")
	}
	if err := os.RemoveAll(e.files.WorkerRoot(id)); err != nil {
		e.logger.Warn().Err(err).Str("worker_id", id.String()).Msg("removing staged files")
	}
	ol, err := e.oplogs.Open(ctx, id.String())
	if err == nil {
		if current, cerr := ol.CurrentIndex(ctx); cerr == nil {
			if derr := ol.DropPrefix(ctx, current); derr != nil {
				e.logger.Warn().Err(derr).Str("worker_id", id.String()).Msg("dropping oplog on delete")
			}
		}
	}
	e.broker.Publish(&events.Event{Type: events.EventWorkerDeleted, WorkerID: id.String()})
	return rpc.Ok(rpc.DeleteResponse{}), nil
}

func (e *Executor) CompletePromise(ctx context.Context, req *rpc.CompletePromiseRequest) (rpc.Response[rpc.CompletePromiseResponse], error) {
	if shard, misrouted := e.redirect(req.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.CompletePromiseResponse](shard), nil
	}
	already, err := e.promises.Complete(ctx, promise.ID{WorkerID: req.WorkerId, OplogIndex: req.OplogIndex}, req.Payload)
	if err != nil {
		return rpc.Fail[rpc.CompletePromiseResponse](classify(err)), nil
	}
	if !already {
		e.broker.Publish(&events.Event{Type: events.EventPromiseCompleted, WorkerID: req.WorkerId.String(), Message: fmt.Sprintf("promise %d", req.OplogIndex)})
	}
	return rpc.Ok(rpc.CompletePromiseResponse{AlreadyCompleted: already}), nil
}

func (e *Executor) GetMetadata(ctx context.Context, req *rpc.GetMetadataRequest) (rpc.Response[rpc.GetMetadataResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.GetMetadataResponse](shard), nil
	}
	if eng, ok := e.registry.Get(req.OwnedWorkerId.WorkerId); ok {
		m := eng.Metadata()
		m.Status = executionStatusToWorkerStatus(eng.Status())
		return rpc.Ok(rpc.GetMetadataResponse{Metadata: m}), nil
	}
	m, err := e.getCachedMetadata(ctx, req.OwnedWorkerId)
	if err != nil {
		return rpc.Fail[rpc.GetMetadataResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.GetMetadataResponse{Metadata: m}), nil
}

func listFilter(req *rpc.ListWorkersRequest) enumeration.Filter {
	pred := &enumeration.Predicate{NamePrefix: req.NamePrefix}
	return enumeration.Filter{Predicate: pred}
}

func (e *Executor) GetRunningWorkersMetadata(ctx context.Context, req *rpc.ListWorkersRequest) (rpc.Response[rpc.ListWorkersResponse], error) {
	workers, err := e.scanner.ListRunning(ctx, listFilter(req), req.Precise)
	if err != nil {
		return rpc.Fail[rpc.ListWorkersResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.ListWorkersResponse{Workers: filterByComponent(workers, req.ComponentId)}), nil
}

func (e *Executor) GetWorkersMetadata(ctx context.Context, req *rpc.ListWorkersRequest) (rpc.Response[rpc.ListWorkersResponse], error) {
	page, err := e.scanner.List(ctx, req.Cursor, listFilter(req), req.Limit, req.Precise)
	if err != nil {
		return rpc.Fail[rpc.ListWorkersResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.ListWorkersResponse{
		Workers:    filterByComponent(page.Items, req.ComponentId),
		NextCursor: page.NextCursor,
	}), nil
}

func filterByComponent(workers []types.WorkerMetadata, id types.ComponentId) []types.WorkerMetadata {
	var zero types.ComponentId
	if id == zero {
		return workers
	}
	out := workers[:0]
	for _, m := range workers {
		if m.OwnedWorkerId.WorkerId.ComponentId == id {
			out = append(out, m)
		}
	}
	return out
}

func (e *Executor) GetOplog(ctx context.Context, req *rpc.GetOplogRequest) (rpc.Response[rpc.GetOplogResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.GetOplogResponse](shard), nil
	}
	ol, err := e.oplogs.Open(ctx, req.OwnedWorkerId.WorkerId.String())
	if err != nil {
		return rpc.Fail[rpc.GetOplogResponse](classify(err)), nil
	}
	from := req.From
	if from < 1 {
		from = 1
	}
	entries, err := ol.Read(ctx, from, req.Count)
	if err != nil {
		return rpc.Fail[rpc.GetOplogResponse](classify(err)), nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return rpc.Fail[rpc.GetOplogResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.GetOplogResponse{Entries: raw}), nil
}

func (e *Executor) SearchOplog(ctx context.Context, req *rpc.SearchOplogRequest) (rpc.Response[rpc.SearchOplogResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.SearchOplogResponse](shard), nil
	}
	ol, err := e.oplogs.Open(ctx, req.OwnedWorkerId.WorkerId.String())
	if err != nil {
		return rpc.Fail[rpc.SearchOplogResponse](classify(err)), nil
	}
	from := types.OplogIndex(1)
	if req.Cursor != "" {
		n, perr := strconv.ParseUint(req.Cursor, 10, 64)
		if perr != nil {
			return rpc.Fail[rpc.SearchOplogResponse](rpc.GolemError{Kind: "internal", Message: fmt.Sprintf("malformed cursor %q", req.Cursor)}), nil
		}
		from = types.OplogIndex(n)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	entries, err := ol.Read(ctx, from, 0)
	if err != nil {
		return rpc.Fail[rpc.SearchOplogResponse](classify(err)), nil
	}
	var matched []json.RawMessage
	next := ""
	for _, entry := range entries {
		encoded, merr := json.Marshal(entry)
		if merr != nil {
			continue
		}
		if req.Query != "" && !strings.Contains(string(encoded), req.Query) {
			continue
		}
		if len(matched) == limit {
			next = strconv.FormatUint(uint64(entry.Index), 10)
			break
		}
		matched = append(matched, encoded)
	}
	raw, err := json.Marshal(matched)
	if err != nil {
		return rpc.Fail[rpc.SearchOplogResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.SearchOplogResponse{Entries: raw, NextCursor: next}), nil
}

// workerPath resolves a request path inside the worker's staged file root,
// rejecting traversal outside it.
func (e *Executor) workerPath(id types.WorkerId, reqPath string) (string, error) {
	root := e.files.WorkerRoot(id)
	full := filepath.Join(root, filepath.Clean("/"+reqPath))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the worker file root", reqPath)
	}
	return full, nil
}

func (e *Executor) ListDirectory(ctx context.Context, req *rpc.ListDirectoryRequest) (rpc.Response[rpc.ListDirectoryResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.ListDirectoryResponse](shard), nil
	}
	dir, err := e.workerPath(req.OwnedWorkerId.WorkerId, req.Path)
	if err != nil {
		return rpc.Fail[rpc.ListDirectoryResponse](rpc.GolemError{Kind: "internal", Message: err.Error()}), nil
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return rpc.Fail[rpc.ListDirectoryResponse](classify(err)), nil
	}
	out := make([]rpc.DirEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := rpc.DirEntry{Path: filepath.Join(req.Path, de.Name()), IsDir: de.IsDir()}
		if info, ierr := de.Info(); ierr == nil {
			entry.Size = info.Size()
		}
		out = append(out, entry)
	}
	return rpc.Ok(rpc.ListDirectoryResponse{Entries: out}), nil
}

func (e *Executor) ReadFile(ctx context.Context, req *rpc.ReadFileRequest) (rpc.Response[rpc.ReadFileResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.ReadFileResponse](shard), nil
	}
	data, err := e.readWorkerFile(req.OwnedWorkerId.WorkerId, req.Path)
	if err != nil {
		return rpc.Fail[rpc.ReadFileResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.ReadFileResponse{Data: data}), nil
}

func (e *Executor) GetFileContents(ctx context.Context, req *rpc.GetFileContentsRequest) (rpc.Response[rpc.GetFileContentsResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.GetFileContentsResponse](shard), nil
	}
	data, err := e.readWorkerFile(req.OwnedWorkerId.WorkerId, req.Path)
	if err != nil {
		return rpc.Fail[rpc.GetFileContentsResponse](classify(err)), nil
	}
	return rpc.Ok(rpc.GetFileContentsResponse{Data: data}), nil
}

func (e *Executor) readWorkerFile(id types.WorkerId, reqPath string) ([]byte, error) {
	full, err := e.workerPath(id, reqPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, &golemerror.HostCallError{FunctionName: "read_file", Err: err}
	}
	return data, nil
}

func (e *Executor) ActivatePlugin(ctx context.Context, req *rpc.ActivatePluginRequest) (rpc.Response[rpc.ActivatePluginResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.ActivatePluginResponse](shard), nil
	}
	eng, err := e.resolveEngine(ctx, req.OwnedWorkerId)
	if err != nil {
		return rpc.Fail[rpc.ActivatePluginResponse](classify(err)), nil
	}
	ph, ok := eng.(pluginHost)
	if !ok {
		return rpc.Fail[rpc.ActivatePluginResponse](rpc.GolemError{Kind: "internal", Message: "resident engine does not support plugins"}), nil
	}
	if err := ph.ActivatePlugin(ctx, req.PluginId); err != nil {
		return rpc.Fail[rpc.ActivatePluginResponse](classify(err)), nil
	}
	e.putMetadata(ctx, eng)
	return rpc.Ok(rpc.ActivatePluginResponse{}), nil
}

func (e *Executor) DeactivatePlugin(ctx context.Context, req *rpc.DeactivatePluginRequest) (rpc.Response[rpc.DeactivatePluginResponse], error) {
	if shard, misrouted := e.redirect(req.OwnedWorkerId.WorkerId); misrouted {
		return rpc.RedirectTo[rpc.DeactivatePluginResponse](shard), nil
	}
	eng, err := e.resolveEngine(ctx, req.OwnedWorkerId)
	if err != nil {
		return rpc.Fail[rpc.DeactivatePluginResponse](classify(err)), nil
	}
	ph, ok := eng.(pluginHost)
	if !ok {
		return rpc.Fail[rpc.DeactivatePluginResponse](rpc.GolemError{Kind: "internal", Message: "resident engine does not support plugins"}), nil
	}
	if err := ph.DeactivatePlugin(ctx, req.PluginId); err != nil {
		return rpc.Fail[rpc.DeactivatePluginResponse](classify(err)), nil
	}
	e.putMetadata(ctx, eng)
	return rpc.Ok(rpc.DeactivatePluginResponse{}), nil
}

// pluginHost is the subset of *worker.Engine the plugin RPCs depend on.
type pluginHost interface {
	ActivatePlugin(ctx context.Context, pluginID string) error
	DeactivatePlugin(ctx context.Context, pluginID string) error
}
