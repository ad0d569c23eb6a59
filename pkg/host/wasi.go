package host

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golem-io/worker-executor/pkg/oplog"
)

// WallClockNow returns the current wall-clock time as a (seconds,
// nanoseconds) pair, going through Dispatch so the value is recorded on
// first call and replayed verbatim afterward (guest code must never observe
// two different wall-clock readings for the same oplog index across
// replays).
func (h *HostContext) WallClockNow(ctx context.Context) (seconds uint64, nanos uint32, err error) {
	v, err := h.Dispatch(ctx, "wasi:clocks/wall-clock.now", oplog.ReadLocal, Value{}, func(ctx context.Context) (Value, error) {
		now := time.Now()
		return wallClockValue(now), nil
	})
	if err != nil {
		return 0, 0, err
	}
	return decodeWallClock(v)
}

func wallClockValue(t time.Time) Value {
	sec := uint64(t.Unix())
	nsec := uint64(t.Nanosecond())
	return Value{
		Kind: KindRecord,
		Type: AnalysedType{Kind: KindRecord},
		Record: []NamedValue{
			{Name: "seconds", Value: U64Value(sec)},
			{Name: "nanoseconds", Value: U64Value(nsec)},
		},
	}
}

func decodeWallClock(v Value) (uint64, uint32, error) {
	var sec uint64
	var nsec uint32
	for _, f := range v.Record {
		switch f.Name {
		case "seconds":
			if f.Value.Uint != nil {
				sec = *f.Value.Uint
			}
		case "nanoseconds":
			if f.Value.Uint != nil {
				nsec = uint32(*f.Value.Uint)
			}
		}
	}
	return sec, nsec, nil
}

// MonotonicNow returns a monotonic nanosecond counter through Dispatch, same
// replay discipline as WallClockNow.
func (h *HostContext) MonotonicNow(ctx context.Context) (uint64, error) {
	v, err := h.Dispatch(ctx, "wasi:clocks/monotonic-clock.now", oplog.ReadLocal, Value{}, func(ctx context.Context) (Value, error) {
		return U64Value(uint64(time.Now().UnixNano())), nil
	})
	if err != nil {
		return 0, err
	}
	if v.Uint == nil {
		return 0, fmt.Errorf("monotonic-clock.now: malformed replayed value")
	}
	return *v.Uint, nil
}

// RandomBytes returns n cryptographically random bytes through Dispatch, so
// the same bytes are produced on replay without touching the entropy source
// a second time, preserving replay determinism.
func (h *HostContext) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	v, err := h.Dispatch(ctx, "wasi:random/random.get-random-bytes", oplog.ReadLocal, U64Value(uint64(n)), func(ctx context.Context) (Value, error) {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return Value{}, fmt.Errorf("reading random bytes: %w", err)
		}
		// Base64 keeps arbitrary bytes intact through the JSON oplog encoding.
		return StrValue(base64.StdEncoding.EncodeToString(buf)), nil
	})
	if err != nil {
		return nil, err
	}
	if v.Str == nil {
		return nil, fmt.Errorf("get-random-bytes: malformed replayed value")
	}
	return base64.StdEncoding.DecodeString(*v.Str)
}

// FileRead reads a staged file relative to root (the worker's scratch
// directory from pkg/component.FileLoader.WorkerRoot) through Dispatch as a
// ReadLocal call.
func (h *HostContext) FileRead(ctx context.Context, root, path string) ([]byte, error) {
	v, err := h.Dispatch(ctx, "wasi:filesystem/types.read", oplog.ReadLocal, StrValue(path), func(ctx context.Context) (Value, error) {
		data, err := os.ReadFile(filepath.Join(root, filepath.Clean("/"+path)))
		if err != nil {
			return Value{}, err
		}
		return StrValue(string(data)), nil
	})
	if err != nil {
		return nil, err
	}
	if v.Str == nil {
		return nil, fmt.Errorf("filesystem.read: malformed replayed value")
	}
	return []byte(*v.Str), nil
}

// FileWrite writes data to a staged file relative to root through Dispatch
// as a WriteLocal call; replay restores the same return value (bytes
// written) without touching the filesystem again, matching the "local
// write" classification for scratch-directory files.
func (h *HostContext) FileWrite(ctx context.Context, root, path string, data []byte) (int, error) {
	v, err := h.Dispatch(ctx, "wasi:filesystem/types.write", oplog.WriteLocal, fileWriteRequest(path, len(data)), func(ctx context.Context) (Value, error) {
		dest := filepath.Join(root, filepath.Clean("/"+path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return Value{}, err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return Value{}, err
		}
		return S64Value(int64(len(data))), nil
	})
	if err != nil {
		return 0, err
	}
	if v.Int == nil {
		return 0, fmt.Errorf("filesystem.write: malformed replayed value")
	}
	return int(*v.Int), nil
}

func fileWriteRequest(path string, size int) Value {
	return Value{
		Kind: KindRecord,
		Type: AnalysedType{Kind: KindRecord},
		Record: []NamedValue{
			{Name: "path", Value: StrValue(path)},
			{Name: "bytes", Value: U64Value(uint64(size))},
		},
	}
}

// EnvironmentVariables returns the worker's declared environment through
// Dispatch as a ReadLocal call (the set is fixed at worker creation, so
// live and replay always agree without any special-casing).
func (h *HostContext) EnvironmentVariables(ctx context.Context, env map[string]string) ([]NamedValue, error) {
	v, err := h.Dispatch(ctx, "wasi:cli/environment.get-environment", oplog.ReadLocal, Value{}, func(ctx context.Context) (Value, error) {
		pairs := make([]NamedValue, 0, len(env))
		for k, val := range env {
			pairs = append(pairs, NamedValue{Name: k, Value: StrValue(val)})
		}
		return Value{Kind: KindRecord, Record: pairs}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.Record, nil
}
