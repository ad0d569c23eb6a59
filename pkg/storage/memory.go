package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of IndexedStore, KVStore,
// BlobStore and ComponentObjectStore, used in unit tests in place of a
// BoltDB-backed store.
type MemoryStore struct {
	mu       sync.RWMutex
	indexed  map[string]map[string][]IndexedEntry // namespace -> worker -> entries (sorted)
	kv       map[string]map[string][]byte          // namespace -> key -> value
	blobs    map[string][]byte
	comps    map[string][]byte
	compFile map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indexed:  make(map[string]map[string][]IndexedEntry),
		kv:       make(map[string]map[string][]byte),
		blobs:    make(map[string][]byte),
		comps:    make(map[string][]byte),
		compFile: make(map[string][]byte),
	}
}

func (m *MemoryStore) Append(ctx context.Context, namespace, worker string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.indexed[namespace]
	if !ok {
		ns = make(map[string][]IndexedEntry)
		m.indexed[namespace] = ns
	}
	entries := ns[worker]
	index := int64(1)
	if len(entries) > 0 {
		index = entries[len(entries)-1].Index + 1
	}
	ns[worker] = append(entries, IndexedEntry{Worker: worker, Index: index, Value: append([]byte{}, value...)})
	return index, nil
}

func (m *MemoryStore) AppendBatch(ctx context.Context, namespace, worker string, values [][]byte) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.indexed[namespace]
	if !ok {
		ns = make(map[string][]IndexedEntry)
		m.indexed[namespace] = ns
	}
	entries := ns[worker]
	index := int64(1)
	if len(entries) > 0 {
		index = entries[len(entries)-1].Index + 1
	}
	indices := make([]int64, 0, len(values))
	for _, value := range values {
		entries = append(entries, IndexedEntry{Worker: worker, Index: index, Value: append([]byte{}, value...)})
		indices = append(indices, index)
		index++
	}
	ns[worker] = entries
	return indices, nil
}

func (m *MemoryStore) Read(ctx context.Context, namespace, worker string, from int64, count int) ([]IndexedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IndexedEntry
	for _, e := range m.indexed[namespace][worker] {
		if e.Index >= from {
			out = append(out, e)
			if count > 0 && len(out) >= count {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) First(ctx context.Context, namespace, worker string) (IndexedEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.indexed[namespace][worker]
	if len(entries) == 0 {
		return IndexedEntry{}, false, nil
	}
	return entries[0], true, nil
}

func (m *MemoryStore) Last(ctx context.Context, namespace, worker string) (IndexedEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.indexed[namespace][worker]
	if len(entries) == 0 {
		return IndexedEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (m *MemoryStore) Closest(ctx context.Context, namespace, worker string, key int64) (IndexedEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.indexed[namespace][worker]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Index >= key })
	if i >= len(entries) {
		return IndexedEntry{}, false, nil
	}
	return entries[i], true, nil
}

func (m *MemoryStore) Length(ctx context.Context, namespace, worker string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.indexed[namespace][worker])), nil
}

func (m *MemoryStore) DropPrefix(ctx context.Context, namespace, worker string, upTo int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.indexed[namespace][worker]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Index >= upTo })
	if m.indexed[namespace] != nil {
		m.indexed[namespace][worker] = append([]IndexedEntry{}, entries[i:]...)
	}
	return nil
}

func (m *MemoryStore) Scan(ctx context.Context, namespace, pattern, cursor string, limit int) ([]IndexedEntry, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	workers := make([]string, 0, len(m.indexed[namespace]))
	for w := range m.indexed[namespace] {
		workers = append(workers, w)
	}
	sort.Strings(workers)
	var out []IndexedEntry
	started := cursor == ""
	for _, w := range workers {
		if !started {
			if w == cursor {
				started = true
			}
			continue
		}
		if pattern != "" && !strings.Contains(w, pattern) {
			continue
		}
		out = append(out, m.indexed[namespace][w]...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], w, nil
		}
	}
	return out, "", nil
}

func (m *MemoryStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.kv[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.kv[namespace] = ns
	}
	ns[key] = append([]byte{}, value...)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[namespace][key]
	return v, ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv[namespace], key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.kv[namespace]))
	for k, v := range m.kv[namespace] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) PutBlob(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[hash] = append([]byte{}, data...)
	return hash, nil
}

func (m *MemoryStore) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", hash)
	}
	return v, nil
}

func (m *MemoryStore) HasBlob(ctx context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[hash]
	return ok, nil
}

func (m *MemoryStore) DeleteBlob(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, hash)
	return nil
}

func (m *MemoryStore) PutComponent(ctx context.Context, componentID string, version uint64, wasmBytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comps[fmt.Sprintf("%s@%d", componentID, version)] = append([]byte{}, wasmBytes...)
	return nil
}

func (m *MemoryStore) GetComponent(ctx context.Context, componentID string, version uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.comps[fmt.Sprintf("%s@%d", componentID, version)]
	if !ok {
		return nil, fmt.Errorf("component not found: %s@%d", componentID, version)
	}
	return v, nil
}

func (m *MemoryStore) PutFile(ctx context.Context, componentID string, version uint64, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compFile[fmt.Sprintf("%s@%d:%s", componentID, version, path)] = append([]byte{}, data...)
	return nil
}

func (m *MemoryStore) GetFile(ctx context.Context, componentID string, version uint64, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.compFile[fmt.Sprintf("%s@%d:%s", componentID, version, path)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s@%d:%s", componentID, version, path)
	}
	return v, nil
}
