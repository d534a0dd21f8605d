package rpc

import (
	"errors"
	"fmt"

	"msgrpc/message"
)

var (
	ErrLifecycle = errors.New("rpc: lifecycle violation")
	ErrNotReady  = errors.New("rpc: engine not started")
	ErrProtocol  = errors.New("rpc: protocol error")
	ErrStopped   = errors.New("rpc: engine stopped")
	ErrPending   = errors.New("rpc: call still pending")

	// ErrProcedureNotFound matches, via errors.Is, the rejection a caller
	// receives when the remote side has nothing registered under the name.
	ErrProcedureNotFound error = &message.RemoteError{Code: message.CodeProcedureNotFound}
)

// LifecycleError reports Start on a started engine or Stop on a stopped one.
type LifecycleError struct {
	Label string
	Op    string // "start" or "stop"
}

func (e *LifecycleError) Error() string {
	if e.Op == "start" {
		return fmt.Sprintf("rpc[%s]: engine already started", e.Label)
	}
	return fmt.Sprintf("rpc[%s]: engine not started, cannot %s", e.Label, e.Op)
}

func (e *LifecycleError) Unwrap() error { return ErrLifecycle }

// ProtocolError reports a malformed inbound envelope. It aborts the dispatch
// of that one envelope and nothing else.
type ProtocolError struct {
	Label  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc[%s]: protocol error: %s", e.Label, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
