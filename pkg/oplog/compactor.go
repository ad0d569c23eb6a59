package oplog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

// chunkManifest is the sorted set of cold chunks a worker's oplog has been
// compacted into. It is kept in KVStore (a fixed-key lookup by worker id)
// rather than BlobStore, since BlobStore is content-addressed only and the
// manifest's whole point is to be found again by worker id, not by hash.
type chunkManifest struct {
	Chunks []chunkRef `json:"chunks"`
}

type chunkRef struct {
	Hash       string           `json:"hash"`
	FirstIndex types.OplogIndex `json:"first_index"`
	LastIndex  types.OplogIndex `json:"last_index"`
}

func loadChunkManifest(ctx context.Context, kv storage.KVStore, workerID string) (chunkManifest, error) {
	raw, ok, err := kv.Get(ctx, manifestNamespace, workerID)
	if err != nil {
		return chunkManifest{}, err
	}
	if !ok {
		return chunkManifest{}, nil // no manifest yet: fresh worker
	}
	var m chunkManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return chunkManifest{}, fmt.Errorf("corrupt oplog chunk manifest: %w", err)
	}
	return m, nil
}

func saveChunkManifest(ctx context.Context, kv storage.KVStore, workerID string, m chunkManifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return kv.Put(ctx, manifestNamespace, workerID, raw)
}

func loadChunk(ctx context.Context, blobs storage.BlobStore, ref chunkRef, level int) ([]Entry, error) {
	raw, err := blobs.GetBlob(ctx, ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("loading cold chunk %s: %w", ref.Hash, err)
	}
	decompressed, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing cold chunk %s: %w", ref.Hash, err)
	}
	var entries []Entry
	if err := json.Unmarshal(decompressed, &entries); err != nil {
		return nil, fmt.Errorf("decoding cold chunk %s: %w", ref.Hash, err)
	}
	return entries, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// maybeCompact moves the oldest hot chunk of the oplog into compressed
// cold storage once the hot tail exceeds opts.HotChunkSize entries,
// keeping live storage bounded regardless of a worker's total history.
func (o *oplogImpl) maybeCompact(ctx context.Context) error {
	length, err := o.indexed.Length(ctx, hotNamespace, o.workerID)
	if err != nil {
		return err
	}
	if int(length) <= o.opts.HotChunkSize {
		return nil
	}
	first, ok, err := o.indexed.First(ctx, hotNamespace, o.workerID)
	if err != nil || !ok {
		return err
	}
	entries, err := o.readHot(ctx, types.OplogIndex(first.Index), o.opts.HotChunkSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	compressed, err := compress(raw)
	if err != nil {
		return err
	}
	hash, err := o.blobs.PutBlob(ctx, compressed)
	if err != nil {
		return err
	}
	lastIdx := entries[len(entries)-1].Index
	manifest, err := loadChunkManifest(ctx, o.kv, o.workerID)
	if err != nil {
		return err
	}
	manifest.Chunks = append(manifest.Chunks, chunkRef{
		Hash:       hash,
		FirstIndex: entries[0].Index,
		LastIndex:  lastIdx,
	})
	if err := saveChunkManifest(ctx, o.kv, o.workerID, manifest); err != nil {
		return err
	}
	return o.indexed.DropPrefix(ctx, hotNamespace, o.workerID, int64(lastIdx)+1)
}
