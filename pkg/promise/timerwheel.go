package promise

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/storage"
)

const delayedEventsNamespace = "DelayedEvents"

// Fire is invoked once for each due timer entry. Implementations typically
// re-activate the owning worker on its shard.
type Fire func(ctx context.Context, id string, payload json.RawMessage)

// TimerWheel is the durable delayed-event scheduler: a single logical
// wheel, backed by KVStore so pending events survive a restart, ticking on
// a configurable resolution.
type TimerWheel struct {
	kv       storage.KVStore
	fire     Fire
	tick     time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]dueEntry
	stopCh  chan struct{}
}

type dueEntry struct {
	FireAt  time.Time       `json:"fire_at"`
	Payload json.RawMessage `json:"payload"`
}

// NewTimerWheel constructs a wheel with the given tick resolution (default
// 100ms if tick <= 0).
func NewTimerWheel(kv storage.KVStore, tick time.Duration, fire Fire) *TimerWheel {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &TimerWheel{
		kv:      kv,
		fire:    fire,
		tick:    tick,
		logger:  log.WithComponent("timerwheel"),
		entries: make(map[string]dueEntry),
		stopCh:  make(chan struct{}),
	}
}

// Schedule durably arms a delayed event. Restarting the process re-reads it
// from KVStore via Start, so the event is never lost.
func (w *TimerWheel) Schedule(ctx context.Context, id string, fireAt time.Time, payload json.RawMessage) error {
	entry := dueEntry{FireAt: fireAt, Payload: payload}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := w.kv.Put(ctx, delayedEventsNamespace, id, raw); err != nil {
		return fmt.Errorf("scheduling timer %s: %w", id, err)
	}
	w.mu.Lock()
	w.entries[id] = entry
	w.mu.Unlock()
	return nil
}

// Cancel removes a pending delayed event before it fires (a no-op if it
// already fired or never existed).
func (w *TimerWheel) Cancel(ctx context.Context, id string) error {
	w.mu.Lock()
	delete(w.entries, id)
	w.mu.Unlock()
	return w.kv.Delete(ctx, delayedEventsNamespace, id)
}

// Start scans KVStore for every pending entry, re-arming anything whose
// fire time is in the future and firing anything already past-due
// immediately and synchronously, then begins the periodic tick loop.
func (w *TimerWheel) Start(ctx context.Context) error {
	stored, err := w.kv.List(ctx, delayedEventsNamespace)
	if err != nil {
		return fmt.Errorf("loading delayed events: %w", err)
	}
	now := time.Now()
	var overdue []string
	w.mu.Lock()
	for id, raw := range stored {
		var entry dueEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			w.logger.Warn().Err(err).Str("timer_id", id).Msg("dropping corrupt delayed event")
			continue
		}
		w.entries[id] = entry
		if !entry.FireAt.After(now) {
			overdue = append(overdue, id)
		}
	}
	w.mu.Unlock()

	for _, id := range overdue {
		w.fireOne(ctx, id)
	}

	go w.run(ctx)
	return nil
}

func (w *TimerWheel) run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-timeChan(ticker):
			w.sweep(ctx, now)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// timeChan exists purely so the select above reads naturally as "on tick";
// kept as a thin indirection point in case a future test harness wants to
// inject a synthetic ticker channel.
func timeChan(t *time.Ticker) <-chan time.Time { return t.C }

func (w *TimerWheel) sweep(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var due []string
	for id, entry := range w.entries {
		if !entry.FireAt.After(now) {
			due = append(due, id)
		}
	}
	w.mu.Unlock()

	for _, id := range due {
		w.fireOne(ctx, id)
	}
}

func (w *TimerWheel) fireOne(ctx context.Context, id string) {
	w.mu.Lock()
	entry, ok := w.entries[id]
	if ok {
		delete(w.entries, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := w.kv.Delete(ctx, delayedEventsNamespace, id); err != nil {
		w.logger.Warn().Err(err).Str("timer_id", id).Msg("failed to clear fired delayed event")
	}
	w.fire(ctx, id, entry.Payload)
}

// Stop halts the tick loop. Pending entries remain in KVStore and will be
// re-armed by the next Start.
func (w *TimerWheel) Stop() {
	close(w.stopCh)
}
