package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golem-io/worker-executor/pkg/oplog"
)

// ResourceTable is a worker's live WIT resource handles: the guest creates
// a resource (e.g. an open file, a connection) and receives back a handle
// it threads through subsequent calls; DropResource releases it. Both
// operations are oplog entries (CreateResource/DropResource/
// DescribeResource) so a replay recreates the same handle numbering.
type ResourceTable struct {
	mu   sync.Mutex
	next uint64
	byID map[uint64]resourceRecord
}

type resourceRecord struct {
	name   string
	params string
}

func NewResourceTable() *ResourceTable {
	return &ResourceTable{byID: make(map[uint64]resourceRecord)}
}

// Create allocates a new handle for (name, params), recording a
// CreateResource entry, and returns the allocated id. In Replay mode the
// caller should route through HostContext.Dispatch instead so the id comes
// from the recorded entry rather than from a fresh allocation.
func (h *HostContext) CreateResource(ctx context.Context, name, params string) (uint64, error) {
	h.resources.mu.Lock()
	h.resources.next++
	id := h.resources.next
	h.resources.byID[id] = resourceRecord{name: name, params: params}
	h.resources.mu.Unlock()

	_, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindCreateResource,
		Timestamp: time.Now(),
		Resource: &oplog.ResourcePayload{
			ResourceID:     id,
			ResourceName:   name,
			ResourceParams: params,
		},
	}}, oplog.Immediate)
	if err != nil {
		return 0, fmt.Errorf("appending CreateResource for %s: %w", name, err)
	}
	return id, nil
}

// DropResource releases a handle, recording a DropResource entry. Dropping
// an id that is not currently live is a no-op at the table level (the oplog
// entry is still recorded, since a guest may legitimately drop a handle it
// received from a parent resource it no longer tracks locally).
func (h *HostContext) DropResource(ctx context.Context, id uint64) error {
	h.resources.mu.Lock()
	rec, ok := h.resources.byID[id]
	delete(h.resources.byID, id)
	h.resources.mu.Unlock()

	payload := &oplog.ResourcePayload{ResourceID: id}
	if ok {
		payload.ResourceName = rec.name
		payload.ResourceParams = rec.params
	}
	_, err := h.ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindDropResource,
		Timestamp: time.Now(),
		Resource:  payload,
	}}, oplog.Immediate)
	if err != nil {
		return fmt.Errorf("appending DropResource for %d: %w", id, err)
	}
	return nil
}

// Describe returns the (name, params) a live handle was created with, for
// the DescribeResource host call used by diagnostics.
func (h *HostContext) Describe(id uint64) (name, params string, ok bool) {
	h.resources.mu.Lock()
	defer h.resources.mu.Unlock()
	rec, ok := h.resources.byID[id]
	return rec.name, rec.params, ok
}

// restore replays a CreateResource/DropResource entry against the table
// without appending anything, used by dispatchReplay to keep handle
// numbering consistent with the recorded history.
func (rt *ResourceTable) restore(entry oplog.Entry) {
	if entry.Resource == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch entry.Kind {
	case oplog.KindCreateResource:
		rt.byID[entry.Resource.ResourceID] = resourceRecord{
			name:   entry.Resource.ResourceName,
			params: entry.Resource.ResourceParams,
		}
		if entry.Resource.ResourceID > rt.next {
			rt.next = entry.Resource.ResourceID
		}
	case oplog.KindDropResource:
		delete(rt.byID, entry.Resource.ResourceID)
	}
}
