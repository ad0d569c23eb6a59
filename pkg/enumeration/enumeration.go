// Package enumeration implements the worker metadata scan:
// get_running_workers_metadata and get_workers_metadata, with a
// conjunction/disjunction filter tree over (name, status, version,
// created-at, env, last-error) and a precise/cached status toggle. Filters
// evaluate against a persisted cache instead of a live map: a worker's
// metadata must remain scannable even when it is not currently resident in
// this executor's pkg/registry.
package enumeration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

const metadataNamespace = "WorkerMetadata"

// Store is the persisted, scannable cache of WorkerMetadata ("Recomputable
// from the oplog; cached for fast scans"). The executor writes through to
// it whenever a worker's metadata changes; enumeration itself never talks
// to the oplog directly except via the optional Resolver passed to List for
// precise mode.
type Store struct {
	kv storage.KVStore
}

func NewStore(kv storage.KVStore) *Store {
	return &Store{kv: kv}
}

// Put persists the latest snapshot of m, keyed by its OwnedWorkerId.
func (s *Store) Put(ctx context.Context, m types.WorkerMetadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, metadataNamespace, m.OwnedWorkerId.String(), raw)
}

// Delete removes a worker's cached metadata when the worker is deleted.
func (s *Store) Delete(ctx context.Context, owned types.OwnedWorkerId) error {
	return s.kv.Delete(ctx, metadataNamespace, owned.String())
}

// All returns every cached WorkerMetadata, in no particular order; List
// sorts and paginates over the result.
func (s *Store) All(ctx context.Context) ([]types.WorkerMetadata, error) {
	raw, err := s.kv.List(ctx, metadataNamespace)
	if err != nil {
		return nil, err
	}
	out := make([]types.WorkerMetadata, 0, len(raw))
	for _, v := range raw {
		var m types.WorkerMetadata
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, fmt.Errorf("decoding cached worker metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Predicate is one leaf test in a Filter tree.
type Predicate struct {
	NamePrefix        string
	Status            *types.WorkerStatus
	Version           *types.ComponentVersion
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
	EnvKey            string
	EnvValue          string
	LastErrorContains string
}

func (p Predicate) matches(m types.WorkerMetadata) bool {
	if p.NamePrefix != "" && !strings.HasPrefix(m.OwnedWorkerId.WorkerId.WorkerName, p.NamePrefix) {
		return false
	}
	if p.Status != nil && m.Status != *p.Status {
		return false
	}
	if p.Version != nil && m.ComponentVersion != *p.Version {
		return false
	}
	if p.CreatedAfter != nil && m.CreatedAt.Before(*p.CreatedAfter) {
		return false
	}
	if p.CreatedBefore != nil && m.CreatedAt.After(*p.CreatedBefore) {
		return false
	}
	if p.EnvKey != "" && m.Env[p.EnvKey] != p.EnvValue {
		return false
	}
	if p.LastErrorContains != "" && !strings.Contains(m.LastError, p.LastErrorContains) {
		return false
	}
	return true
}

// Filter is a conjunction/disjunction tree over Predicate leaves
// leaves. Exactly one of Predicate, All, or Any should be set; a
// zero-value Filter matches everything.
type Filter struct {
	Predicate *Predicate
	All       []Filter // every sub-filter must match (AND)
	Any       []Filter // at least one sub-filter must match (OR)
}

func (f Filter) Matches(m types.WorkerMetadata) bool {
	if f.Predicate != nil && !f.Predicate.matches(m) {
		return false
	}
	for _, sub := range f.All {
		if !sub.Matches(m) {
			return false
		}
	}
	if len(f.Any) > 0 {
		ok := false
		for _, sub := range f.Any {
			if sub.Matches(m) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Resolver recomputes a worker's authoritative status for precise mode,
// independent of the cached snapshot in Store (WorkerStatus "is derived
// state, never trusted as source of truth; always reconcilable from the
// oplog tail").
type Resolver interface {
	Resolve(ctx context.Context, owned types.OwnedWorkerId) (types.WorkerStatus, error)
}

// Scanner answers the get_running_workers_metadata / get_workers_metadata
// RPCs.
type Scanner struct {
	store    *Store
	resolver Resolver
}

func NewScanner(store *Store, resolver Resolver) *Scanner {
	return &Scanner{store: store, resolver: resolver}
}

// Page is one cursor-paginated slice of a List scan.
type Page struct {
	Items      []types.WorkerMetadata
	NextCursor string
}

const defaultPageSize = 100

// List scans cached worker metadata matching filter, ordered deterministically
// by WorkerId string (so cursor pagination is stable across calls), resuming
// after cursor. When precise is true, each candidate's status is recomputed
// via Resolver rather than trusting the cached value.
func (s *Scanner) List(ctx context.Context, cursor string, filter Filter, limit int, precise bool) (Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	all, err := s.store.All(ctx)
	if err != nil {
		return Page{}, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].OwnedWorkerId.WorkerId.String() < all[j].OwnedWorkerId.WorkerId.String()
	})

	start := 0
	if cursor != "" {
		for i, m := range all {
			if m.OwnedWorkerId.WorkerId.String() > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	items := make([]types.WorkerMetadata, 0, limit)
	next := ""
	for i := start; i < len(all); i++ {
		m := all[i]
		if precise && s.resolver != nil {
			status, err := s.resolver.Resolve(ctx, m.OwnedWorkerId)
			if err == nil {
				m.Status = status
			}
		}
		if !filter.Matches(m) {
			continue
		}
		if len(items) == limit {
			next = all[i-1].OwnedWorkerId.WorkerId.String()
			break
		}
		items = append(items, m)
	}
	return Page{Items: items, NextCursor: next}, nil
}

// ListRunning is List restricted to workers whose status is Running,
// matching the dedicated get_running_workers_metadata RPC.
func (s *Scanner) ListRunning(ctx context.Context, filter Filter, precise bool) ([]types.WorkerMetadata, error) {
	running := types.WorkerStatusRunning
	combined := Filter{All: []Filter{filter, {Predicate: &Predicate{Status: &running}}}}
	var out []types.WorkerMetadata
	cursor := ""
	for {
		page, err := s.List(ctx, cursor, combined, defaultPageSize, precise)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
