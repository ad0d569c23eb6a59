// Package component resolves compiled WASM component bytes and metadata by
// (component id, version), and stages a worker's declared initial files
// into a per-worker scratch area the host's WASI preopen surface serves.
// Resolved components are immutable once published, so the service caches
// them without eviction.
package component

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

// FunctionSignature describes one exported or imported function's typed
// shape, enough for the host to validate replay's function-name stability
// invariant and to generate WIT-shaped host import bindings.
type FunctionSignature struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
}

// Component is an immutable, resolved (componentID, version) pair: its WASM
// bytes plus the parsed signatures and limits a worker instantiation needs.
type Component struct {
	ID               types.ComponentId
	Version          types.ComponentVersion
	WasmBytes        []byte
	Exports          []FunctionSignature
	Imports          []FunctionSignature
	MemoryLimitBytes uint64
}

// Service resolves components and their declared initial files.
type Service struct {
	objects storage.ComponentObjectStore
	manifests storage.KVStore

	mu    sync.RWMutex
	cache map[string]*Component
}

func NewService(objects storage.ComponentObjectStore, manifests storage.KVStore) *Service {
	return &Service{objects: objects, manifests: manifests, cache: make(map[string]*Component)}
}

func cacheKey(id types.ComponentId, version types.ComponentVersion) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// Resolve returns the Component for (componentID, version), using the
// in-process cache when already published and falling back to the
// ComponentObjectStore and its manifest otherwise.
func (s *Service) Resolve(ctx context.Context, id types.ComponentId, version types.ComponentVersion) (*Component, error) {
	key := cacheKey(id, version)

	s.mu.RLock()
	if c, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	wasmBytes, err := s.objects.GetComponent(ctx, id.String(), uint64(version))
	if err != nil {
		return nil, fmt.Errorf("resolving component %s@%d: %w", id, version, err)
	}

	manifest, err := s.loadManifest(ctx, key)
	if err != nil {
		return nil, err
	}

	c := &Component{
		ID:               id,
		Version:          version,
		WasmBytes:        wasmBytes,
		Exports:          manifest.Exports,
		Imports:          manifest.Imports,
		MemoryLimitBytes: manifest.MemoryLimitBytes,
	}

	s.mu.Lock()
	s.cache[key] = c
	s.mu.Unlock()
	return c, nil
}

// Files returns the initial files declared for (componentID, version),
// fetched from the component object store.
func (s *Service) Files(ctx context.Context, id types.ComponentId, version types.ComponentVersion) ([]StagedFile, error) {
	manifest, err := s.loadManifest(ctx, cacheKey(id, version))
	if err != nil {
		return nil, err
	}
	files := make([]StagedFile, 0, len(manifest.InitialFiles))
	for _, f := range manifest.InitialFiles {
		data, err := s.objects.GetFile(ctx, id.String(), uint64(version), f.Path)
		if err != nil {
			return nil, fmt.Errorf("loading initial file %s for %s@%d: %w", f.Path, id, version, err)
		}
		files = append(files, StagedFile{InitialFile: f, Data: data})
	}
	return files, nil
}

// Manifest is the static, yaml-declared description of a published
// component's exports/imports/memory limit and initial files (the platform's
// "component metadata" — not oplog-resident, since it is immutable once
// published rather than worker-specific history).
type Manifest struct {
	Exports          []FunctionSignature  `yaml:"exports" json:"exports"`
	Imports          []FunctionSignature  `yaml:"imports" json:"imports"`
	MemoryLimitBytes uint64               `yaml:"memory_limit_bytes" json:"memory_limit_bytes"`
	InitialFiles     []types.InitialFile  `yaml:"initial_files" json:"initial_files"`
}

const manifestNamespace = "ComponentManifest"

func (s *Service) loadManifest(ctx context.Context, key string) (Manifest, error) {
	raw, ok, err := s.manifests.Get(ctx, manifestNamespace, key)
	if err != nil {
		return Manifest{}, err
	}
	if !ok {
		return Manifest{}, nil // no declared exports/imports/files recorded yet
	}
	m, err := decodeManifest(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest for %s: %w", key, err)
	}
	return m, nil
}

// PutManifest publishes (or republishes) the static declaration for a
// component version; called by the bootstrap/deploy path, not by workers.
func (s *Service) PutManifest(ctx context.Context, id types.ComponentId, version types.ComponentVersion, m Manifest) error {
	raw, err := encodeManifest(m)
	if err != nil {
		return err
	}
	return s.manifests.Put(ctx, manifestNamespace, cacheKey(id, version), raw)
}

// StagedFile pairs an InitialFile declaration with its resolved bytes.
type StagedFile struct {
	types.InitialFile
	Data []byte
}

// Hash returns the sha256 hex digest of the staged file's contents, the
// value recorded as initial_files_hash on a worker's Create oplog entry so
// replay can assert the same files were used.
func (f StagedFile) Hash() string {
	sum := sha256.Sum256(f.Data)
	return hex.EncodeToString(sum[:])
}
