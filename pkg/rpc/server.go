package rpc

import "context"

// WorkerExecutorServer is the external RPC surface, exposed by
// pkg/executor.Executor over gRPC (pkg/rpc/executor_service.go) and
// consumed directly in-process by the CLI/test harness without a network
// hop. Every method returns Response[T] rather than a bare error so the
// Success/Failure(GolemError)/Redirect distinction survives the RPC
// boundary (a Redirect is not a Go error: it is the expected answer from a
// node that does not currently own the target worker's shard).
type WorkerExecutorServer interface {
	CreateWorker(ctx context.Context, req *CreateWorkerRequest) (Response[CreateWorkerResponse], error)
	InvokeAndAwait(ctx context.Context, req *InvokeAndAwaitRequest) (Response[InvokeAndAwaitResponse], error)
	InvokeAndAwaitTyped(ctx context.Context, req *InvokeAndAwaitTypedRequest) (Response[InvokeAndAwaitTypedResponse], error)
	Invoke(ctx context.Context, req *InvokeRequest) (Response[InvokeResponse], error)
	Connect(req *ConnectRequest, stream LogStream) error
	Interrupt(ctx context.Context, req *InterruptRequest) (Response[InterruptResponse], error)
	Resume(ctx context.Context, req *ResumeRequest) (Response[ResumeResponse], error)
	Update(ctx context.Context, req *UpdateRequest) (Response[UpdateResponse], error)
	Delete(ctx context.Context, req *DeleteRequest) (Response[DeleteResponse], error)
	CompletePromise(ctx context.Context, req *CompletePromiseRequest) (Response[CompletePromiseResponse], error)
	GetMetadata(ctx context.Context, req *GetMetadataRequest) (Response[GetMetadataResponse], error)
	GetRunningWorkersMetadata(ctx context.Context, req *ListWorkersRequest) (Response[ListWorkersResponse], error)
	GetWorkersMetadata(ctx context.Context, req *ListWorkersRequest) (Response[ListWorkersResponse], error)
	GetOplog(ctx context.Context, req *GetOplogRequest) (Response[GetOplogResponse], error)
	SearchOplog(ctx context.Context, req *SearchOplogRequest) (Response[SearchOplogResponse], error)
	ListDirectory(ctx context.Context, req *ListDirectoryRequest) (Response[ListDirectoryResponse], error)
	ReadFile(ctx context.Context, req *ReadFileRequest) (Response[ReadFileResponse], error)
	ActivatePlugin(ctx context.Context, req *ActivatePluginRequest) (Response[ActivatePluginResponse], error)
	DeactivatePlugin(ctx context.Context, req *DeactivatePluginRequest) (Response[DeactivatePluginResponse], error)
	GetFileContents(ctx context.Context, req *GetFileContentsRequest) (Response[GetFileContentsResponse], error)
}

// LogStream is the server side of the server-streamed Connect RPC ("connect
// (server-streamed log events)"), kept minimal so WorkerExecutorServer
// implementations don't need to depend on grpc.ServerStream directly.
type LogStream interface {
	Send(event *LogEvent) error
	Context() context.Context
}
