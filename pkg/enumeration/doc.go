// Package enumeration scans cached WorkerMetadata for the worker-executor's
// listing RPCs, with an optional precise-status recompute pass. See
// enumeration.go's Store/Filter/Scanner for the concrete shapes.
package enumeration
