package host

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/types"
)

// OutgoingRequest is the host-side representation of a guest's
// wasi:http/outgoing-handler request. Send brackets the whole exchange with
// BeginRemoteWrite/EndRemoteWrite so a crash mid-flight is detectable on
// replay.
type OutgoingRequest struct {
	Method  string
	URL     string
	Headers map[string][]string
	Body    []byte
}

// FutureIncomingResponse is returned by Send. Send resolves the response
// head (status and headers) synchronously from the guest's perspective, so
// Get never blocks; the wire protocol's pending state is collapsed into the
// Send call itself. The body is NOT buffered here: it streams through
// StreamBody, one recorded chunk entry at a time, off the live socket held
// in live (nil when the exchange was replayed).
type FutureIncomingResponse struct {
	host       *HostContext
	beginIndex types.OplogIndex

	mu       sync.Mutex
	resolved bool
	head     *IncomingResponse
	live     io.ReadCloser
}

// IncomingResponse is the response head persisted for an OutgoingRequest.
// Body bytes live in the WriteRemoteBatched chunk entries recorded under
// the same begin_index, not here.
type IncomingResponse struct {
	Status  int
	Headers map[string][]string
}

var httpClient = &http.Client{Timeout: 0}

const bodyChunkSize = 64 * 1024

// Send issues req, recording the BeginRemoteWrite bracket and the response
// head so replay can reconstruct the exchange without touching the network
// again. The round trip runs through HostContext.Dispatch as a WriteRemote
// call, so Live/Replay/PersistNothing dispatch is uniform with every other
// host import; the response body stays on the live socket for StreamBody.
func (h *HostContext) Send(ctx context.Context, req OutgoingRequest) (*FutureIncomingResponse, error) {
	beginIndex, err := h.BeginRemoteWrite(ctx, req.Method+" "+req.URL)
	if err != nil {
		return nil, err
	}

	var liveBody io.ReadCloser
	value, err := h.Dispatch(ctx, "wasi:http/outgoing-handler.handle", oplog.WriteRemote, encodeOutgoingRequest(req), func(ctx context.Context) (Value, error) {
		resp, err := doHTTP(ctx, req)
		if err != nil {
			return Value{}, err
		}
		liveBody = resp.Body
		return encodeResponseHead(resp), nil
	})
	if err != nil {
		return nil, err
	}
	head, err := decodeResponseHead(value)
	if err != nil {
		return nil, err
	}

	return &FutureIncomingResponse{
		host:       h,
		beginIndex: beginIndex,
		resolved:   true,
		head:       head,
		live:       liveBody,
	}, nil
}

// Get returns the resolved response head. It mirrors the WIT
// future<incoming-response> shape; because Send resolves synchronously, Get
// never observes the pending state.
func (f *FutureIncomingResponse) Get(ctx context.Context) (*IncomingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return nil, &golemerror.OplogError{Reason: "FutureIncomingResponse.Get called before resolution"}
	}
	return f.head, nil
}

// StreamBody drains the response body one chunk at a time, each chunk its
// own WriteRemoteBatched entry carrying the chunk's bytes, so a crash
// mid-stream resumes with exactly the chunks already recorded. On replay
// the chunks are read back from the oplog in order and the live socket is
// never touched. The final entry carries an eof marker; the close of the
// exchange emits the matching EndRemoteWrite.
func (h *HostContext) StreamBody(ctx context.Context, f *FutureIncomingResponse, onChunk func([]byte) error) error {
	if _, err := f.Get(ctx); err != nil {
		return err
	}
	for seq := 0; ; seq++ {
		v, err := h.Dispatch(ctx, "wasi:http/types.incoming-body.stream", oplog.WriteRemoteBatched,
			chunkRequest(f.beginIndex, seq), func(ctx context.Context) (Value, error) {
				return f.readLiveChunk()
			})
		if err != nil {
			return fmt.Errorf("streaming body chunk %d: %w", seq, err)
		}
		data, eof, derr := decodeChunk(v)
		if derr != nil {
			return fmt.Errorf("decoding body chunk %d: %w", seq, derr)
		}
		if len(data) > 0 {
			if err := onChunk(data); err != nil {
				return err
			}
		}
		if eof {
			break
		}
	}

	f.mu.Lock()
	if f.live != nil {
		_ = f.live.Close()
		f.live = nil
	}
	f.mu.Unlock()
	return h.EndRemoteWrite(ctx, f.beginIndex)
}

// readLiveChunk reads the next chunk off the live socket. A nil live reader
// (already drained and closed) yields an immediate eof chunk.
func (f *FutureIncomingResponse) readLiveChunk() (Value, error) {
	f.mu.Lock()
	live := f.live
	f.mu.Unlock()
	if live == nil {
		return chunkValue(nil, true), nil
	}
	buf := make([]byte, bodyChunkSize)
	for {
		n, err := live.Read(buf)
		if n > 0 {
			return chunkValue(buf[:n], false), nil
		}
		if err == io.EOF {
			return chunkValue(nil, true), nil
		}
		if err != nil {
			return Value{}, err
		}
	}
}

func doHTTP(ctx context.Context, req OutgoingRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func encodeOutgoingRequest(req OutgoingRequest) Value {
	headerRecord := make([]NamedValue, 0, len(req.Headers))
	for k, vs := range req.Headers {
		headerRecord = append(headerRecord, NamedValue{Name: k, Value: StrValue(joinHeaderValues(vs))})
	}
	return Value{
		Kind: KindRecord,
		Type: AnalysedType{Kind: KindRecord},
		Record: []NamedValue{
			{Name: "method", Value: StrValue(req.Method)},
			{Name: "url", Value: StrValue(req.URL)},
			{Name: "headers", Value: Value{Kind: KindRecord, Record: headerRecord}},
			{Name: "body", Value: StrValue(base64.StdEncoding.EncodeToString(req.Body))},
		},
	}
}

func encodeResponseHead(resp *http.Response) Value {
	headerRecord := make([]NamedValue, 0, len(resp.Header))
	for k, vs := range resp.Header {
		headerRecord = append(headerRecord, NamedValue{Name: k, Value: StrValue(joinHeaderValues(vs))})
	}
	status := int64(resp.StatusCode)
	return Value{
		Kind: KindRecord,
		Type: AnalysedType{Kind: KindRecord},
		Record: []NamedValue{
			{Name: "status", Value: S64Value(status)},
			{Name: "headers", Value: Value{Kind: KindRecord, Record: headerRecord}},
		},
	}
}

func decodeResponseHead(v Value) (*IncomingResponse, error) {
	resp := &IncomingResponse{Headers: map[string][]string{}}
	for _, f := range v.Record {
		switch f.Name {
		case "status":
			if f.Value.Int != nil {
				resp.Status = int(*f.Value.Int)
			}
		case "headers":
			for _, h := range f.Value.Record {
				if h.Value.Str != nil {
					resp.Headers[h.Name] = []string{*h.Value.Str}
				}
			}
		}
	}
	return resp, nil
}

// chunkRequest tags a body-chunk entry with the owning exchange's begin
// index and the chunk's position in the stream.
func chunkRequest(begin types.OplogIndex, seq int) Value {
	return Value{
		Kind: KindRecord,
		Type: AnalysedType{Kind: KindRecord},
		Record: []NamedValue{
			{Name: "begin_index", Value: U64Value(uint64(begin))},
			{Name: "seq", Value: U64Value(uint64(seq))},
		},
	}
}

func chunkValue(data []byte, eof bool) Value {
	return Value{
		Kind: KindRecord,
		Type: AnalysedType{Kind: KindRecord},
		Record: []NamedValue{
			{Name: "data", Value: StrValue(base64.StdEncoding.EncodeToString(data))},
			{Name: "eof", Value: BoolValue(eof)},
		},
	}
}

func decodeChunk(v Value) (data []byte, eof bool, err error) {
	for _, f := range v.Record {
		switch f.Name {
		case "data":
			if f.Value.Str != nil {
				data, err = base64.StdEncoding.DecodeString(*f.Value.Str)
				if err != nil {
					return nil, false, err
				}
			}
		case "eof":
			if f.Value.Bool != nil {
				eof = *f.Value.Bool
			}
		}
	}
	return data, eof, nil
}

func joinHeaderValues(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	out := vs[0]
	for _, v := range vs[1:] {
		out += ", " + v
	}
	return out
}
