/*
Package client provides a Go client for the worker-executor gRPC API.

It wraps every RPC of the executor surface in a typed method returning the same
Result[Success, Failure(GolemError) | Redirect] shape the server produces,
so callers can react to shard redirects by re-dialing the owning node:

	c, err := client.New("executor-1:9000")
	resp, err := c.InvokeAndAwait(ctx, &rpc.InvokeAndAwaitRequest{...})
	switch {
	case resp.Redirect != nil:
		// retry against the node owning resp.Redirect.ShardNumber
	case resp.Failure != nil:
		// a GolemError from the worker
	default:
		// resp.Success.Results
	}

The streaming Connect RPC is exposed as an EventStream with a Recv loop.
*/
package client
