package orchestrator

import "errors"

var (
	// ErrAgentInvocation wraps client, network and model failures
	ErrAgentInvocation = errors.New("agent invocation failed")

	// ErrBudgetExceeded is a normal termination cause, never a recorded error
	ErrBudgetExceeded = errors.New("call budget exhausted")

	// ErrInvalidRequest is returned by RunTurn for malformed requests
	ErrInvalidRequest = errors.New("invalid turn request")

	// ErrStepLimit means the routing loop exceeded StepLimit
	ErrStepLimit = errors.New("turn exceeded its step limit")
)
