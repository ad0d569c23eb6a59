/*
Package events provides an in-memory pub/sub Broker used to fan out worker
lifecycle and invocation events to the gRPC Connect streaming handler and
to any other in-process subscriber.

Broker.Publish waits until the broker's input queue has room (or the broker
is stopped). Delivery from there to each subscriber is non-blocking: a slow
or dead subscriber has its buffer fill and further events silently dropped
for it rather than stalling the broker, since a worker's own durability guarantees come from the oplog,
not from this best-effort notification channel.
*/
package events
