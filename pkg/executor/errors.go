package executor

import (
	"errors"

	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/rpc"
)

// classify maps any error this package's handlers can return onto the wire
// GolemError taxonomy of pkg/golemerror, so every RPC handler shares one
// translation instead of re-deriving Kind ad hoc.
func classify(err error) rpc.GolemError {
	var guestTrap *golemerror.GuestTrapError
	var hostCall *golemerror.HostCallError
	var oplogErr *golemerror.OplogError
	var resourceLimit *golemerror.ResourceLimitError
	var interrupted *golemerror.InterruptedError

	switch {
	case errors.As(err, &guestTrap):
		return rpc.GolemError{Kind: "guest_trap", Message: err.Error()}
	case errors.As(err, &hostCall):
		return rpc.GolemError{Kind: "host_call", Message: err.Error()}
	case errors.As(err, &oplogErr):
		return rpc.GolemError{Kind: "oplog", Message: err.Error()}
	case errors.As(err, &resourceLimit):
		return rpc.GolemError{Kind: "resource_limit", Message: err.Error()}
	case errors.As(err, &interrupted):
		return rpc.GolemError{Kind: "interrupted", Message: err.Error()}
	default:
		return rpc.GolemError{Kind: "internal", Message: err.Error()}
	}
}
