package orchestrator

import "fmt"

// Session is the state of one turn. It is created by RunTurn, mutated only
// by the orchestrator's steps and dropped once a terminal state is reached.
type Session struct {
	transcript []Message
	errors     []string
	callCount  int
	maxCalls   int

	pendingDelegation *Delegation
	command           *string

	state          State
	lastCallFailed bool
	retryOnFailure bool
}

// NewSession validates req and creates the session for it
func NewSession(req Request, retryOnFailure bool) (*Session, error) {
	if req.MaxCalls <= 0 {
		return nil, fmt.Errorf("%w: max_calls must be positive, got %d", ErrInvalidRequest, req.MaxCalls)
	}
	if req.CallCount < 0 {
		return nil, fmt.Errorf("%w: call_count must be >= 0, got %d", ErrInvalidRequest, req.CallCount)
	}

	return &Session{
		callCount:      req.CallCount,
		maxCalls:       req.MaxCalls,
		state:          StateStart,
		retryOnFailure: retryOnFailure,
	}, nil
}

// Transcript returns a copy of the messages appended so far
func (s *Session) Transcript() []Message {
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Errors returns a copy of the recorded errors
func (s *Session) Errors() []string {
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}

func (s *Session) CallCount() int { return s.callCount }

func (s *Session) MaxCalls() int { return s.maxCalls }

func (s *Session) State() State { return s.state }

// PendingDelegation returns the delegation waiting for the sub-agent, if any
func (s *Session) PendingDelegation() *Delegation {
	if s.pendingDelegation == nil {
		return nil
	}
	d := *s.pendingDelegation
	return &d
}

// BudgetExhausted reports whether no further primary-agent call is allowed
func (s *Session) BudgetExhausted() bool {
	return s.callCount >= s.maxCalls
}

// Intercepted reports whether the command interceptor answered the turn
func (s *Session) Intercepted() bool {
	return s.command != nil
}

func (s *Session) append(msgs ...Message) {
	for _, m := range msgs {
		if len(m.ToolRequests) > 0 {
			reqs := make([]ToolRequest, len(m.ToolRequests))
			copy(reqs, m.ToolRequests)
			m.ToolRequests = reqs
		}
		s.transcript = append(s.transcript, m)
	}
}

func (s *Session) recordError(err error) {
	s.errors = append(s.errors, err.Error())
}

func (s *Session) intercept(response string) {
	s.command = &response
}

// freshReply returns the assistant message produced by the latest primary
// step. Anything appended after it (tool or delegate results), or a failed
// call, means there is no fresh reply to route on.
func (s *Session) freshReply() (Message, bool) {
	if s.lastCallFailed || len(s.transcript) == 0 {
		return Message{}, false
	}
	last := s.transcript[len(s.transcript)-1]
	if last.Role != RoleAssistant {
		return Message{}, false
	}
	return last, true
}

// finalText is the last non-empty assistant text, or the command response
func (s *Session) finalText() (string, bool) {
	if s.command != nil {
		return *s.command, true
	}
	for i := len(s.transcript) - 1; i >= 0; i-- {
		m := s.transcript[i]
		if m.Role == RoleAssistant && m.Content != "" {
			return m.Content, true
		}
	}
	return "", false
}
