// Package promise implements two related but independently usable pieces:
// named rendezvous points that survive worker suspension (Service), and a
// durable delayed-event wheel (TimerWheel) used for guest sleeps and
// scheduled invocations. Both persist through pkg/storage so a crash never
// loses a pending completion or a due timer.
package promise
