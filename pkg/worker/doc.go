// Package worker is the per-worker execution state machine: it owns a
// worker's WASM instance, drains its FIFO invocation queue, and drives
// Recovering → Live → Idle/Suspended/Interrupted/Failed transitions on top
// of pkg/host's durable dispatch and pkg/oplog's replay. One Engine per
// resident worker; pkg/registry decides which workers get one.
package worker
