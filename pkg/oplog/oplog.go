// Package oplog implements the per-worker append-only log of typed entries:
// a hot tail in indexed storage, compressed cold chunks in blob storage
// once the tail grows past a configured size, and ordered reads that span
// both tiers transparently.
package oplog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

// CommitLevel parameterizes the durability barrier of Commit.
type CommitLevel int

const (
	// Immediate forces a dedicated, synchronously durable write.
	Immediate CommitLevel = iota
	// DurableOnly marks an entry that tolerates batching. No batch writer
	// exists: Append writes it synchronously, exactly like Immediate.
	DurableOnly
	// PersistNothing drops the entry: nothing is stored and no index is
	// assigned. Used under a guest PersistenceLevel override.
	PersistNothing
)

const hotNamespace = "OpLog"

// Oplog is the per-worker append-only log contract.
type Oplog interface {
	// Append durably persists entries (assigning them Index) and returns
	// their assigned indices. Entries are appended atomically: either all
	// of them get contiguous indices or none are visible.
	Append(ctx context.Context, entries []Entry, level CommitLevel) ([]types.OplogIndex, error)

	// Read returns up to count entries starting at from, in ascending
	// index order, transparently skipping any range covered by a Jump and
	// spanning the hot/cold tier boundary.
	Read(ctx context.Context, from types.OplogIndex, count int) ([]Entry, error)

	// Length returns the number of entries ever appended (including ones
	// later covered by a Jump or compacted into cold storage — i.e. the
	// current tail index).
	Length(ctx context.Context) (types.OplogIndex, error)

	// LastEntry returns the most recently appended entry, or ok=false for
	// a brand-new worker with no entries yet.
	LastEntry(ctx context.Context) (entry Entry, ok bool, err error)

	// CurrentIndex returns the index the next Append call will assign.
	CurrentIndex(ctx context.Context) (types.OplogIndex, error)

	// DropPrefix compacts cold storage, discarding entries below upTo. The
	// executor's Delete handler calls it; snapshot-based update does not.
	DropPrefix(ctx context.Context, upTo types.OplogIndex) error

	// Revert appends a Revert marker that hides every entry recorded
	// after toIndex from subsequent reads, as if execution had rolled
	// back to that point. The marker itself is never returned by Read.
	Revert(ctx context.Context, toIndex types.OplogIndex) error

	// Commit is a durability barrier. Every Append is already written
	// synchronously, whatever its level, so Commit has nothing to flush and
	// is a no-op for every level.
	Commit(ctx context.Context, level CommitLevel) error
}

// Factory constructs an Oplog bound to one worker's persisted state.
type Factory struct {
	indexed storage.IndexedStore
	blobs   storage.BlobStore
	kv      storage.KVStore
	opts    Options
}

const manifestNamespace = "OplogChunkManifest"

// Options configures hot/cold layering thresholds.
type Options struct {
	// HotChunkSize is the number of entries kept in the hot tail before a
	// compaction moves the oldest chunk to compressed cold storage.
	HotChunkSize int
	// CompressionLevel names the cold-chunk codec generation; bump when
	// the wire format changes incompatibly so old chunks stay readable.
	CompressionLevel int
}

// DefaultOptions keeps the hot tail small enough that compaction stays
// cheap while avoiding a cold-chunk round trip for recent history.
func DefaultOptions() Options {
	return Options{HotChunkSize: 1024, CompressionLevel: 1}
}

func NewFactory(indexed storage.IndexedStore, blobs storage.BlobStore, kv storage.KVStore, opts Options) *Factory {
	if opts.HotChunkSize <= 0 {
		opts.HotChunkSize = DefaultOptions().HotChunkSize
	}
	return &Factory{indexed: indexed, blobs: blobs, kv: kv, opts: opts}
}

// Open returns the Oplog for workerID, synthesizing a Jump over any
// dangling BeginAtomicRegion/BeginRemoteWrite left open by a crash before
// any replay client observes the tail.
func (f *Factory) Open(ctx context.Context, workerID string) (Oplog, error) {
	o := &oplogImpl{
		workerID: workerID,
		indexed:  f.indexed,
		blobs:    f.blobs,
		kv:       f.kv,
		opts:     f.opts,
		logger:   log.WithComponent("oplog").With().Str("worker_id", workerID).Logger(),
	}
	if err := o.healDanglingBrackets(ctx); err != nil {
		return nil, fmt.Errorf("healing worker %s oplog: %w", workerID, err)
	}
	return o, nil
}

type oplogImpl struct {
	workerID string
	indexed  storage.IndexedStore
	blobs    storage.BlobStore
	kv       storage.KVStore
	opts     Options
	logger   zerolog.Logger
}

// healDanglingBrackets synthesizes a Jump over any BeginAtomicRegion or
// BeginRemoteWrite left open by a process crash: an unmatched Begin* at
// process start is treated as rolled back.
func (o *oplogImpl) healDanglingBrackets(ctx context.Context) error {
	last, ok, err := o.indexed.Last(ctx, hotNamespace, o.workerID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	entries, err := o.readHot(ctx, 1, 0)
	if err != nil {
		return err
	}
	var openAtomic, openRemote *Entry
	for i := range entries {
		e := &entries[i]
		switch e.Kind {
		case KindBeginAtomicRegion:
			openAtomic = e
		case KindEndAtomicRegion:
			openAtomic = nil
		case KindBeginRemoteWrite:
			openRemote = e
		case KindEndRemoteWrite:
			openRemote = nil
		case KindJump:
			// A bracket already covered by a Jump (healed on an earlier
			// Open, or reverted) is not open any more.
			if e.Jump != nil {
				if openAtomic != nil && e.Jump.Start <= openAtomic.Index && openAtomic.Index < e.Jump.End {
					openAtomic = nil
				}
				if openRemote != nil && e.Jump.Start <= openRemote.Index && openRemote.Index < e.Jump.End {
					openRemote = nil
				}
			}
		}
	}
	_ = last
	var start types.OplogIndex
	if openAtomic != nil {
		start = openAtomic.Index
	}
	if openRemote != nil && (start == 0 || openRemote.Index < start) {
		start = openRemote.Index
	}
	if start == 0 {
		return nil
	}
	nextIdx, err := o.CurrentIndex(ctx)
	if err != nil {
		return err
	}
	jump := Entry{Kind: KindJump, Jump: &JumpPayload{Start: start, End: nextIdx}}
	raw, err := encodeEntry(jump)
	if err != nil {
		return err
	}
	_, err = o.indexed.Append(ctx, hotNamespace, o.workerID, raw)
	return err
}

func (o *oplogImpl) Append(ctx context.Context, entries []Entry, level CommitLevel) ([]types.OplogIndex, error) {
	if level == PersistNothing {
		// Reserve nothing: PersistNothing entries never reach storage, so
		// no index is assigned either; callers must not rely on the
		// returned slice's length matching len(entries) in this mode.
		return nil, nil
	}
	values := make([][]byte, 0, len(entries))
	for _, e := range entries {
		raw, err := encodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("encoding oplog entry: %w", err)
		}
		values = append(values, raw)
	}
	// One storage transaction for the whole slice, so a multi-entry append
	// is all-or-nothing.
	rawIndices, err := o.indexed.AppendBatch(ctx, hotNamespace, o.workerID, values)
	if err != nil {
		return nil, &golemerror.OplogError{WorkerID: o.workerID, Reason: fmt.Sprintf("append failed: %v", err)}
	}
	indices := make([]types.OplogIndex, 0, len(rawIndices))
	for _, idx := range rawIndices {
		indices = append(indices, types.OplogIndex(idx))
	}
	if err := o.maybeCompact(ctx); err != nil {
		// Compaction failure is not fatal to the append that just
		// succeeded; it is retried on the next append.
		o.logger.Warn().Err(err).Msg("oplog compaction failed, will retry")
	}
	return indices, nil
}

func (o *oplogImpl) Revert(ctx context.Context, toIndex types.OplogIndex) error {
	current, err := o.CurrentIndex(ctx)
	if err != nil {
		return err
	}
	if toIndex < 1 || toIndex >= current-1 {
		return &golemerror.OplogError{
			WorkerID: o.workerID,
			Reason:   fmt.Sprintf("revert target %d out of range [1, %d)", toIndex, current-1),
		}
	}
	_, err = o.Append(ctx, []Entry{{
		Kind:      KindRevert,
		Timestamp: time.Now(),
		Revert:    &RevertPayload{ToIndex: toIndex},
	}}, Immediate)
	return err
}

func (o *oplogImpl) Read(ctx context.Context, from types.OplogIndex, count int) ([]Entry, error) {
	// Jump and Revert markers are stored after the range they hide, so the
	// whole tail from `from` is read before count is applied.
	var out []Entry
	cold, err := o.readCold(ctx, from, 0)
	if err != nil {
		return nil, err
	}
	out = append(out, cold...)
	hotFrom := from
	if len(out) > 0 {
		hotFrom = out[len(out)-1].Index + 1
	}
	hot, err := o.readHot(ctx, hotFrom, 0)
	if err != nil {
		return nil, err
	}
	out = applyJumps(append(out, hot...))
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// applyJumps removes entries covered by any Jump or Revert range present
// in the slice, so callers of Read never observe a reverted/rolled-back
// span. A Revert{to_index} at index r behaves as Jump{to_index+1, r+1}: it
// hides everything after the target, itself included.
func applyJumps(entries []Entry) []Entry {
	var jumps []JumpPayload
	for _, e := range entries {
		switch {
		case e.Kind == KindJump && e.Jump != nil:
			jumps = append(jumps, *e.Jump)
		case e.Kind == KindRevert && e.Revert != nil:
			jumps = append(jumps, JumpPayload{Start: e.Revert.ToIndex + 1, End: e.Index + 1})
		}
	}
	if len(jumps) == 0 {
		return entries
	}
	covered := func(idx types.OplogIndex) bool {
		for _, j := range jumps {
			if idx >= j.Start && idx < j.End {
				return true
			}
		}
		return false
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.Kind == KindJump {
			continue
		}
		if covered(e.Index) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (o *oplogImpl) readHot(ctx context.Context, from types.OplogIndex, count int) ([]Entry, error) {
	raw, err := o.indexed.Read(ctx, hotNamespace, o.workerID, int64(from), count)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		e, err := decodeEntry(r.Value)
		if err != nil {
			return nil, &golemerror.OplogError{WorkerID: o.workerID, Reason: fmt.Sprintf("corrupt hot entry at %d: %v", r.Index, err)}
		}
		e.Index = types.OplogIndex(r.Index)
		out = append(out, e)
	}
	return out, nil
}

func (o *oplogImpl) readCold(ctx context.Context, from types.OplogIndex, count int) ([]Entry, error) {
	// Cold chunk pointers are stored as a KV-ish namespace entry per chunk
	// boundary; absent a chunk index in this store, cold reads are served
	// by chunk manifests written during compaction (see compactor.go).
	manifest, err := loadChunkManifest(ctx, o.kv, o.workerID)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, chunk := range manifest.Chunks {
		if chunk.LastIndex < from {
			continue
		}
		entries, err := loadChunk(ctx, o.blobs, chunk, o.opts.CompressionLevel)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Index < from {
				continue
			}
			out = append(out, e)
			if count > 0 && len(out) >= count {
				return out, nil
			}
		}
	}
	return out, nil
}

func (o *oplogImpl) Length(ctx context.Context) (types.OplogIndex, error) {
	// CurrentIndex is the next index Append will assign (one-based), so the
	// number of entries ever appended is always CurrentIndex-1.
	cur, err := o.CurrentIndex(ctx)
	if err != nil {
		return 0, err
	}
	return cur - 1, nil
}

func (o *oplogImpl) LastEntry(ctx context.Context) (Entry, bool, error) {
	last, ok, err := o.indexed.Last(ctx, hotNamespace, o.workerID)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		manifest, merr := loadChunkManifest(ctx, o.kv, o.workerID)
		if merr != nil || len(manifest.Chunks) == 0 {
			return Entry{}, false, nil
		}
		lastChunk := manifest.Chunks[len(manifest.Chunks)-1]
		entries, lerr := loadChunk(ctx, o.blobs, lastChunk, o.opts.CompressionLevel)
		if lerr != nil || len(entries) == 0 {
			return Entry{}, false, lerr
		}
		return entries[len(entries)-1], true, nil
	}
	e, err := decodeEntry(last.Value)
	if err != nil {
		return Entry{}, false, &golemerror.OplogError{WorkerID: o.workerID, Reason: fmt.Sprintf("corrupt tail entry: %v", err)}
	}
	e.Index = types.OplogIndex(last.Index)
	return e, true, nil
}

func (o *oplogImpl) CurrentIndex(ctx context.Context) (types.OplogIndex, error) {
	last, ok, err := o.indexed.Last(ctx, hotNamespace, o.workerID)
	if err != nil {
		return 0, err
	}
	if ok {
		return types.OplogIndex(last.Index) + 1, nil
	}
	manifest, err := loadChunkManifest(ctx, o.kv, o.workerID)
	if err != nil || len(manifest.Chunks) == 0 {
		return 1, nil
	}
	return manifest.Chunks[len(manifest.Chunks)-1].LastIndex + 1, nil
}

// Commit is a no-op: every Append against the underlying IndexedStore is
// already a synchronously durable write (bbolt commits per transaction),
// so there is no batched-write window to flush.
func (o *oplogImpl) Commit(ctx context.Context, level CommitLevel) error {
	return nil
}

func (o *oplogImpl) DropPrefix(ctx context.Context, upTo types.OplogIndex) error {
	manifest, err := loadChunkManifest(ctx, o.kv, o.workerID)
	if err != nil {
		return err
	}
	kept := manifest.Chunks[:0:0]
	for _, c := range manifest.Chunks {
		if c.LastIndex < upTo {
			continue
		}
		kept = append(kept, c)
	}
	manifest.Chunks = kept
	return saveChunkManifest(ctx, o.kv, o.workerID, manifest)
}
