package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	_ "github.com/golem-io/worker-executor/pkg/grpcjson" // registers the "proto" json codec
	"github.com/golem-io/worker-executor/pkg/rpc"
)

// Client wraps the worker-executor gRPC API for CLI and test usage.
type Client struct {
	conn *grpc.ClientConn
}

// New dials a worker-executor node. The API is an in-cluster surface;
// transport security is the deployment's concern (see pkg/api), so the
// client dials cleartext.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing worker-executor at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func call[Req, Resp any](ctx context.Context, c *Client, method string, req *Req) (rpc.Response[Resp], error) {
	resp := &rpc.Response[Resp]{}
	if err := c.conn.Invoke(ctx, "/"+rpc.ServiceName+"/"+method, req, resp); err != nil {
		return rpc.Response[Resp]{}, fmt.Errorf("calling %s: %w", method, err)
	}
	return *resp, nil
}

func (c *Client) CreateWorker(ctx context.Context, req *rpc.CreateWorkerRequest) (rpc.Response[rpc.CreateWorkerResponse], error) {
	return call[rpc.CreateWorkerRequest, rpc.CreateWorkerResponse](ctx, c, "CreateWorker", req)
}

func (c *Client) InvokeAndAwait(ctx context.Context, req *rpc.InvokeAndAwaitRequest) (rpc.Response[rpc.InvokeAndAwaitResponse], error) {
	return call[rpc.InvokeAndAwaitRequest, rpc.InvokeAndAwaitResponse](ctx, c, "InvokeAndAwait", req)
}

func (c *Client) InvokeAndAwaitTyped(ctx context.Context, req *rpc.InvokeAndAwaitTypedRequest) (rpc.Response[rpc.InvokeAndAwaitTypedResponse], error) {
	return call[rpc.InvokeAndAwaitTypedRequest, rpc.InvokeAndAwaitTypedResponse](ctx, c, "InvokeAndAwaitTyped", req)
}

func (c *Client) Invoke(ctx context.Context, req *rpc.InvokeRequest) (rpc.Response[rpc.InvokeResponse], error) {
	return call[rpc.InvokeRequest, rpc.InvokeResponse](ctx, c, "Invoke", req)
}

func (c *Client) Interrupt(ctx context.Context, req *rpc.InterruptRequest) (rpc.Response[rpc.InterruptResponse], error) {
	return call[rpc.InterruptRequest, rpc.InterruptResponse](ctx, c, "Interrupt", req)
}

func (c *Client) Resume(ctx context.Context, req *rpc.ResumeRequest) (rpc.Response[rpc.ResumeResponse], error) {
	return call[rpc.ResumeRequest, rpc.ResumeResponse](ctx, c, "Resume", req)
}

func (c *Client) Update(ctx context.Context, req *rpc.UpdateRequest) (rpc.Response[rpc.UpdateResponse], error) {
	return call[rpc.UpdateRequest, rpc.UpdateResponse](ctx, c, "Update", req)
}

func (c *Client) Delete(ctx context.Context, req *rpc.DeleteRequest) (rpc.Response[rpc.DeleteResponse], error) {
	return call[rpc.DeleteRequest, rpc.DeleteResponse](ctx, c, "Delete", req)
}

func (c *Client) CompletePromise(ctx context.Context, req *rpc.CompletePromiseRequest) (rpc.Response[rpc.CompletePromiseResponse], error) {
	return call[rpc.CompletePromiseRequest, rpc.CompletePromiseResponse](ctx, c, "CompletePromise", req)
}

func (c *Client) GetMetadata(ctx context.Context, req *rpc.GetMetadataRequest) (rpc.Response[rpc.GetMetadataResponse], error) {
	return call[rpc.GetMetadataRequest, rpc.GetMetadataResponse](ctx, c, "GetMetadata", req)
}

func (c *Client) GetRunningWorkersMetadata(ctx context.Context, req *rpc.ListWorkersRequest) (rpc.Response[rpc.ListWorkersResponse], error) {
	return call[rpc.ListWorkersRequest, rpc.ListWorkersResponse](ctx, c, "GetRunningWorkersMetadata", req)
}

func (c *Client) GetWorkersMetadata(ctx context.Context, req *rpc.ListWorkersRequest) (rpc.Response[rpc.ListWorkersResponse], error) {
	return call[rpc.ListWorkersRequest, rpc.ListWorkersResponse](ctx, c, "GetWorkersMetadata", req)
}

func (c *Client) GetOplog(ctx context.Context, req *rpc.GetOplogRequest) (rpc.Response[rpc.GetOplogResponse], error) {
	return call[rpc.GetOplogRequest, rpc.GetOplogResponse](ctx, c, "GetOplog", req)
}

func (c *Client) SearchOplog(ctx context.Context, req *rpc.SearchOplogRequest) (rpc.Response[rpc.SearchOplogResponse], error) {
	return call[rpc.SearchOplogRequest, rpc.SearchOplogResponse](ctx, c, "SearchOplog", req)
}

func (c *Client) ListDirectory(ctx context.Context, req *rpc.ListDirectoryRequest) (rpc.Response[rpc.ListDirectoryResponse], error) {
	return call[rpc.ListDirectoryRequest, rpc.ListDirectoryResponse](ctx, c, "ListDirectory", req)
}

func (c *Client) ReadFile(ctx context.Context, req *rpc.ReadFileRequest) (rpc.Response[rpc.ReadFileResponse], error) {
	return call[rpc.ReadFileRequest, rpc.ReadFileResponse](ctx, c, "ReadFile", req)
}

func (c *Client) GetFileContents(ctx context.Context, req *rpc.GetFileContentsRequest) (rpc.Response[rpc.GetFileContentsResponse], error) {
	return call[rpc.GetFileContentsRequest, rpc.GetFileContentsResponse](ctx, c, "GetFileContents", req)
}

func (c *Client) ActivatePlugin(ctx context.Context, req *rpc.ActivatePluginRequest) (rpc.Response[rpc.ActivatePluginResponse], error) {
	return call[rpc.ActivatePluginRequest, rpc.ActivatePluginResponse](ctx, c, "ActivatePlugin", req)
}

func (c *Client) DeactivatePlugin(ctx context.Context, req *rpc.DeactivatePluginRequest) (rpc.Response[rpc.DeactivatePluginResponse], error) {
	return call[rpc.DeactivatePluginRequest, rpc.DeactivatePluginResponse](ctx, c, "DeactivatePlugin", req)
}

// EventStream is the client side of the server-streamed Connect RPC.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next log event; it returns io.EOF when the server
// closes the stream.
func (s *EventStream) Recv() (*rpc.LogEvent, error) {
	event := &rpc.LogEvent{}
	if err := s.stream.RecvMsg(event); err != nil {
		return nil, err
	}
	return event, nil
}

var connectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
}

// Connect opens the server-streamed log-event feed for one worker
// ("connect"). Cancel ctx to hang up.
func (c *Client) Connect(ctx context.Context, req *rpc.ConnectRequest) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &connectStreamDesc, "/"+rpc.ServiceName+"/Connect")
	if err != nil {
		return nil, fmt.Errorf("opening Connect stream: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("sending Connect request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("closing Connect send side: %w", err)
	}
	return &EventStream{stream: stream}, nil
}
