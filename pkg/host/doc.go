// Package host is the durable host implementation presented to a running
// WASM component: the WASI-shaped surface (clocks, random, filesystem,
// environment, HTTP) and the wazero runtime wrapper, all funneled through
// HostContext.Dispatch so every host call is Live/Replay/PersistNothing
// aware.
package host
