// Package promise implements the named, one-shot rendezvous points a guest
// can create and await across suspensions, and the durable timer wheel that
// reschedules delayed oplog events (sleeps, scheduled invocations) across
// restarts.
package promise

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

// ID identifies a promise by the worker that created it and the oplog
// index of the entry that created it — the pair is globally unique since
// oplog indices are per-worker and strictly increasing.
type ID struct {
	WorkerID    types.WorkerId
	OplogIndex  types.OplogIndex
}

func (id ID) String() string {
	return fmt.Sprintf("%s@%d", id.WorkerID, id.OplogIndex)
}

func (id ID) storageKey() string {
	return fmt.Sprintf("%s:%d", id.WorkerID, id.OplogIndex)
}

// state is the durable record behind one promise.
type state struct {
	Completed bool            `json:"completed"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Opener is the slice of the oplog factory Complete depends on to record
// completions on the creating worker's timeline.
type Opener interface {
	Open(ctx context.Context, workerID string) (oplog.Oplog, error)
}

// Service creates, completes, and awaits promises. Completion is itself
// recorded as an oplog entry on the promise's creating worker so replay
// observes the same outcome.
type Service struct {
	kv     storage.KVStore
	oplogs Opener

	mu       sync.Mutex
	waiters  map[string][]chan state
}

const promiseNamespace = "Promise"

func NewService(kv storage.KVStore, oplogs Opener) *Service {
	return &Service{kv: kv, oplogs: oplogs, waiters: make(map[string][]chan state)}
}

// Create registers a new promise identified by (workerID, oplogIndex). The
// oplog index is supplied by the caller because the guest's CreatePromise
// host call is itself the oplog entry that makes this promise replayable.
func (s *Service) Create(ctx context.Context, id ID) error {
	raw, err := json.Marshal(state{})
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, promiseNamespace, id.storageKey(), raw)
}

// Complete resolves a promise with payload. A second call against an
// already-completed promise is a no-op and reports alreadyCompleted=true (a
// promise is completed at most once).
func (s *Service) Complete(ctx context.Context, id ID, payload json.RawMessage) (alreadyCompleted bool, err error) {
	raw, ok, err := s.kv.Get(ctx, promiseNamespace, id.storageKey())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &golemerror.OplogError{WorkerID: id.WorkerID.String(), Reason: fmt.Sprintf("complete of unknown promise %s", id)}
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return false, err
	}
	if st.Completed {
		return true, nil
	}

	// The oplog record comes first: it is the durable event of the
	// completion on the creator's timeline, and the KV projection below is
	// rebuilt from whoever retries if we crash in between (the retry
	// appends a second marker, which replay treats as bookkeeping).
	ol, err := s.oplogs.Open(ctx, id.WorkerID.String())
	if err != nil {
		return false, fmt.Errorf("opening oplog for promise completion: %w", err)
	}
	if _, err := ol.Append(ctx, []oplog.Entry{{
		Kind:      oplog.KindPromiseCompleted,
		Timestamp: time.Now(),
		PromiseCompleted: &oplog.PromiseCompletedPayload{
			PromiseIndex: id.OplogIndex,
			Payload:      payload,
		},
	}}, oplog.Immediate); err != nil {
		return false, fmt.Errorf("recording promise completion: %w", err)
	}

	st.Completed = true
	st.Payload = payload
	next, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	if err := s.kv.Put(ctx, promiseNamespace, id.storageKey(), next); err != nil {
		return false, err
	}
	s.wake(id, st)
	return false, nil
}

// Await blocks until id is completed or ctx is cancelled. If the promise is
// already completed, it returns immediately.
func (s *Service) Await(ctx context.Context, id ID) (json.RawMessage, error) {
	raw, ok, err := s.kv.Get(ctx, promiseNamespace, id.storageKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &golemerror.OplogError{WorkerID: id.WorkerID.String(), Reason: fmt.Sprintf("await of unknown promise %s", id)}
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	if st.Completed {
		return st.Payload, nil
	}

	ch := make(chan state, 1)
	s.mu.Lock()
	key := id.storageKey()
	s.waiters[key] = append(s.waiters[key], ch)
	s.mu.Unlock()

	select {
	case st := <-ch:
		return st.Payload, nil
	case <-ctx.Done():
		s.removeWaiter(key, ch)
		return nil, ctx.Err()
	}
}

func (s *Service) wake(id ID, st state) {
	s.mu.Lock()
	key := id.storageKey()
	chans := s.waiters[key]
	delete(s.waiters, key)
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- st
	}
}

func (s *Service) removeWaiter(key string, target chan state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[key]
	for i, ch := range chans {
		if ch == target {
			s.waiters[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}
