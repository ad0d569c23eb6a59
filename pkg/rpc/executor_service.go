package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service path every hand-rolled method below is
// registered under, matching the method paths Proxy dials directly (e.g.
// "/golem.WorkerExecutor/InvokeAndAwait").
const ServiceName = "golem.WorkerExecutor"

// RegisterWorkerExecutorServer wires impl into s under ServiceName. There is
// no protoc-generated *_grpc.pb.go in this module (see pkg/grpcjson's doc
// comment for why); serviceDesc below is the hand-authored equivalent,
// built the same way grpc-go's protoc plugin would, just typed against the
// concrete Request/Response structs of messages.go instead of generated
// message types.
func RegisterWorkerExecutorServer(s *grpc.Server, impl WorkerExecutorServer) {
	s.RegisterService(&serviceDesc, impl)
}

func unaryHandler[Req, Resp any](call func(WorkerExecutorServer, context.Context, *Req) (Response[Resp], error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		impl := srv.(WorkerExecutorServer)
		if interceptor == nil {
			return call(impl, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		method("CreateWorker", unaryHandler(WorkerExecutorServer.CreateWorker)),
		method("InvokeAndAwait", unaryHandler(WorkerExecutorServer.InvokeAndAwait)),
		method("InvokeAndAwaitTyped", unaryHandler(WorkerExecutorServer.InvokeAndAwaitTyped)),
		method("Invoke", unaryHandler(WorkerExecutorServer.Invoke)),
		method("Interrupt", unaryHandler(WorkerExecutorServer.Interrupt)),
		method("Resume", unaryHandler(WorkerExecutorServer.Resume)),
		method("Update", unaryHandler(WorkerExecutorServer.Update)),
		method("Delete", unaryHandler(WorkerExecutorServer.Delete)),
		method("CompletePromise", unaryHandler(WorkerExecutorServer.CompletePromise)),
		method("GetMetadata", unaryHandler(WorkerExecutorServer.GetMetadata)),
		method("GetRunningWorkersMetadata", unaryHandler(WorkerExecutorServer.GetRunningWorkersMetadata)),
		method("GetWorkersMetadata", unaryHandler(WorkerExecutorServer.GetWorkersMetadata)),
		method("GetOplog", unaryHandler(WorkerExecutorServer.GetOplog)),
		method("SearchOplog", unaryHandler(WorkerExecutorServer.SearchOplog)),
		method("ListDirectory", unaryHandler(WorkerExecutorServer.ListDirectory)),
		method("ReadFile", unaryHandler(WorkerExecutorServer.ReadFile)),
		method("ActivatePlugin", unaryHandler(WorkerExecutorServer.ActivatePlugin)),
		method("DeactivatePlugin", unaryHandler(WorkerExecutorServer.DeactivatePlugin)),
		method("GetFileContents", unaryHandler(WorkerExecutorServer.GetFileContents)),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
		},
	},
	Metadata: "golem/worker_executor.proto",
}

func method(name string, handler func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{MethodName: name, Handler: handler}
}

// serverStream adapts a grpc.ServerStream to the minimal LogStream
// interface WorkerExecutorServer.Connect implementations depend on.
type serverStream struct{ grpc.ServerStream }

func (s serverStream) Send(event *LogEvent) error {
	return s.ServerStream.SendMsg(event)
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	req := new(ConnectRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(WorkerExecutorServer).Connect(req, serverStream{stream})
}
