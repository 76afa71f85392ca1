package toolexecutor

import "errors"

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrToolExecution     = errors.New("tool execution failed")
	ErrToolTimeout       = errors.New("tool execution timeout")
	ErrInvalidParameters = errors.New("parameter validation failed")
	ErrPolicyViolation   = errors.New("tool is not allowed by agent policy")
)
