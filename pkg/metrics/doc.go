/*
Package metrics provides Prometheus metrics collection and exposition for
the worker-executor process: registry occupancy, oplog throughput,
invocation/replay latency, RPC request rates, and shard assignment.

Metrics are package-level collectors registered at init() time and exposed
via Handler() for scraping. Collector polls a WorkerLister (implemented by
pkg/registry.Registry) on a 15s ticker to refresh gauge-shaped metrics that
aren't naturally event-driven.
*/
package metrics
