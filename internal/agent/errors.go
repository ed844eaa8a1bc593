package agent

import (
	"errors"
	"fmt"
)

// ErrTurnLimit is returned when a single invocation generates more steps than allowed.
var ErrTurnLimit = errors.New("agent loop exceeded its turn limit")

// ExecutionError reports a pending call that could not be dispatched. It is
// fatal for the invocation.
type ExecutionError struct {
	CallID string
	Name   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s (call %s): %v", e.Name, e.CallID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
