/*
Package log provides structured logging for the worker-executor using
zerolog: JSON output in production, a console writer in development, and
component-scoped child loggers.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("worker-executor starting")

	oplogLog := log.WithComponent("oplog")
	oplogLog.Debug().Str("worker_id", id.String()).Msg("appended entry")

# Context loggers

  - WithComponent: subsystem name (storage, oplog, worker, registry, rpc)
  - WithWorkerID / WithComponentID / WithShardID: domain-object scoping

Never log guest-controlled bytes unsanitized; host call arguments/results
are logged as type+size, not raw payload, to avoid leaking worker data into
the operator's log stream.
*/
package log
