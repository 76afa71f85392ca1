package orchestrator

// Route picks the state that follows the session's current state. It reads
// the session only and is deterministic for a given snapshot.
func Route(s *Session) State {
	// (1) command check
	if s.Intercepted() {
		return StateCommandIntercepted
	}

	switch s.state {
	case StateCommandIntercepted, StateEnded:
		return s.state
	case StateStart:
		return StateInvokingPrimaryAgent
	}

	// (2) budget check, strictly before anything that re-enters the loop
	if s.BudgetExhausted() {
		return StateEnded
	}

	switch s.state {
	case StateInvokingTools, StateInvokingSubAgent:
		return StateInvokingPrimaryAgent
	}

	if s.lastCallFailed {
		if s.retryOnFailure {
			return StateInvokingPrimaryAgent
		}
		return StateEnded
	}

	// (3) delegation check
	if s.pendingDelegation != nil {
		return StateInvokingSubAgent
	}

	// (4) tool-request check
	if reply, ok := s.freshReply(); ok && reply.HasToolRequests() {
		return StateInvokingTools
	}

	// (5) default terminal
	return StateEnded
}

// StepLimit bounds the number of steps a turn can take. Every primary call
// can be followed by at most one tool or delegation step, and the budget
// caps primary calls; the first call is always allowed.
func StepLimit(maxCalls, callCount int) int {
	calls := maxCalls - callCount
	if calls < 1 {
		calls = 1
	}
	return 2*calls + 1
}
