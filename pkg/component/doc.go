// Package component resolves published WASM component bytes and metadata
// and stages declared initial files for a worker's WASI preopen surface.
// Resolved components are cached without eviction since they are immutable
// once published.
package component
