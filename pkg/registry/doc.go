// Package registry is the active-worker registry and shard client:
//
//	┌─────────────────────────┐
//	│        Registry         │  bounded LRU, WorkerId → Engine
//	│  ┌──────┐   ┌────────┐  │
//	│  │ LRU  │◄──┤entries │  │  pinned entries skip eviction
//	│  └──────┘   └────────┘  │
//	└───────────┬─────────────┘
//	            │ Owns(id)?
//	            ▼
//	      ┌───────────┐        register/assignments/heartbeat/request_drain
//	      │ShardClient│ ───────────────────────────────────────► shard manager
//	      └───────────┘
//
// Every RPC entrypoint calls ShardClient.Owns before touching a worker;
// Registry.Drain evicts residents that fall outside the current assignment
// once RefreshAssignments observes a shard loss.
package registry
