package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/oplog"
)

func TestHTTPExchangeReplaysFromRecordedChunks(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	workerID := testWorkerID()

	body := strings.Repeat("x", bodyChunkSize+512) // forces more than one chunk
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Fixture", "echo")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	req := OutgoingRequest{Method: http.MethodGet, URL: srv.URL + "/echo?x=42"}

	writer := New(workerID, ol, 0)
	future, err := writer.Send(ctx, req)
	require.NoError(t, err)
	head, err := future.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, head.Status)

	var liveBody []byte
	require.NoError(t, writer.StreamBody(ctx, future, func(chunk []byte) error {
		liveBody = append(liveBody, chunk...)
		return nil
	}))
	require.Equal(t, body, string(liveBody))
	require.Equal(t, int32(1), hits.Load())

	// The chunk entries carry the real bytes, not placeholders.
	entries, err := ol.Read(ctx, 1, 0)
	require.NoError(t, err)
	chunkEntries := 0
	for _, entry := range entries {
		if entry.Kind == oplog.KindImportedFunctionInvoked && entry.ImportedFunctionInvoked.FullName == "wasi:http/types.incoming-body.stream" {
			chunkEntries++
		}
	}
	require.GreaterOrEqual(t, chunkEntries, 3) // two data chunks + eof marker

	recorded, err := ol.Length(ctx)
	require.NoError(t, err)

	// Replaying the identical guest sequence reconstructs head and body
	// from the oplog without the fixture being contacted again.
	reader := New(workerID, ol, recorded)
	replayFuture, err := reader.Send(ctx, req)
	require.NoError(t, err)
	replayHead, err := replayFuture.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, head.Status, replayHead.Status)

	var replayBody []byte
	require.NoError(t, reader.StreamBody(ctx, replayFuture, func(chunk []byte) error {
		replayBody = append(replayBody, chunk...)
		return nil
	}))
	require.Equal(t, body, string(replayBody))
	require.Equal(t, int32(1), hits.Load(), "replay must not contact the fixture")
	require.Equal(t, Live, reader.Mode())
}
