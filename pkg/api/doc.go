/*
Package api hosts the worker-executor's network surface: the gRPC API of
the platform (registered from pkg/rpc's hand-rolled service description) and
the HTTP health/metrics listener served next to it.

The gRPC server carries every worker operation (create, invoke, interrupt,
update, promise completion, metadata queries, oplog inspection); the HTTP
listener carries /health, /ready, /live and Prometheus /metrics. A
read-only variant of the gRPC server exists for local diagnostics
listeners where mutation should be refused.

	srv := api.NewServer(exec) // exec implements rpc.WorkerExecutorServer
	go srv.Start(cfg.BindAddr)

	health := api.NewHealthServer()
	go health.Start(cfg.MetricsAddr)

Both Start methods block; Stop drains in-flight RPCs before returning.
*/
package api
