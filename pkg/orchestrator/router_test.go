package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, maxCalls, callCount int) *Session {
	t.Helper()
	s, err := NewSession(Request{UserText: "hi", MaxCalls: maxCalls, CallCount: callCount}, false)
	require.NoError(t, err)
	return s
}

func TestRoute(t *testing.T) {
	withTools := Message{Role: RoleAssistant, ToolRequests: []ToolRequest{{ID: "1", Name: "get_location"}}}

	tests := []struct {
		name  string
		setup func(s *Session)
		want  State
	}{
		{
			name:  "start goes to the primary agent",
			setup: func(s *Session) {},
			want:  StateInvokingPrimaryAgent,
		},
		{
			name: "start goes to the primary agent even with the budget spent",
			setup: func(s *Session) {
				s.callCount = 10
			},
			want: StateInvokingPrimaryAgent,
		},
		{
			name: "command wins over everything",
			setup: func(s *Session) {
				s.callCount = 10
				s.intercept("ok")
			},
			want: StateCommandIntercepted,
		},
		{
			name: "budget is checked before tool requests",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 3
				s.append(withTools)
			},
			want: StateEnded,
		},
		{
			name: "budget is checked before delegation",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 3
				s.append(withTools)
				s.pendingDelegation = &Delegation{RequestID: "1"}
			},
			want: StateEnded,
		},
		{
			name: "delegation is checked before tool requests",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 1
				s.append(withTools)
				s.pendingDelegation = &Delegation{RequestID: "1"}
			},
			want: StateInvokingSubAgent,
		},
		{
			name: "tool requests go to the tools",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 1
				s.append(withTools)
			},
			want: StateInvokingTools,
		},
		{
			name: "plain reply ends the turn",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 1
				s.append(Message{Role: RoleAssistant, Content: "hello"})
			},
			want: StateEnded,
		},
		{
			name: "tools go back to the primary agent",
			setup: func(s *Session) {
				s.state = StateInvokingTools
				s.callCount = 1
				s.append(withTools, Message{Role: RoleTool, ToolRequestID: "1", Content: "x"})
			},
			want: StateInvokingPrimaryAgent,
		},
		{
			name: "sub-agent goes back to the primary agent",
			setup: func(s *Session) {
				s.state = StateInvokingSubAgent
				s.callCount = 1
			},
			want: StateInvokingPrimaryAgent,
		},
		{
			name: "tools end the turn once the budget is spent",
			setup: func(s *Session) {
				s.state = StateInvokingTools
				s.callCount = 3
			},
			want: StateEnded,
		},
		{
			name: "failed call ends the turn without retry",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 1
				s.lastCallFailed = true
			},
			want: StateEnded,
		},
		{
			name: "failed call is retried with retry enabled",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 1
				s.lastCallFailed = true
				s.retryOnFailure = true
			},
			want: StateInvokingPrimaryAgent,
		},
		{
			name: "stale tool requests are not re-executed",
			setup: func(s *Session) {
				s.state = StateInvokingPrimaryAgent
				s.callCount = 2
				s.append(withTools, Message{Role: RoleTool, ToolRequestID: "1"})
				s.lastCallFailed = true
			},
			want: StateEnded,
		},
		{
			name: "terminal states stay terminal",
			setup: func(s *Session) {
				s.state = StateEnded
			},
			want: StateEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, 3, 0)
			tt.setup(s)
			assert.Equal(t, tt.want, Route(s))
		})
	}
}

func TestRoute_IsPure(t *testing.T) {
	s := newTestSession(t, 3, 0)
	s.state = StateInvokingPrimaryAgent
	s.callCount = 1
	s.append(Message{Role: RoleAssistant, ToolRequests: []ToolRequest{{ID: "1", Name: "x"}}})

	before := s.Transcript()
	first := Route(s)
	second := Route(s)

	assert.Equal(t, first, second)
	assert.Equal(t, before, s.Transcript())
	assert.Equal(t, 1, s.CallCount())
	assert.Equal(t, StateInvokingPrimaryAgent, s.State())
}

func TestStepLimit(t *testing.T) {
	assert.Equal(t, 3, StepLimit(1, 0))
	assert.Equal(t, 13, StepLimit(6, 0))
	assert.Equal(t, 3, StepLimit(2, 5))
	assert.Equal(t, 5, StepLimit(6, 4))
}

func TestSession(t *testing.T) {
	t.Run("should reject invalid requests", func(t *testing.T) {
		_, err := NewSession(Request{MaxCalls: 0}, false)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = NewSession(Request{MaxCalls: 1, CallCount: -2}, false)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("should copy appended tool requests", func(t *testing.T) {
		s := newTestSession(t, 3, 0)
		reqs := []ToolRequest{{ID: "1", Name: "a"}}
		s.append(Message{Role: RoleAssistant, ToolRequests: reqs})
		reqs[0].Name = "changed"

		assert.Equal(t, "a", s.Transcript()[0].ToolRequests[0].Name)
	})

	t.Run("should pick the last non-empty assistant text", func(t *testing.T) {
		s := newTestSession(t, 3, 0)
		s.append(
			Message{Role: RoleAssistant, Content: "first"},
			Message{Role: RoleTool, Content: "tool output"},
			Message{Role: RoleAssistant, Content: ""},
		)

		text, ok := s.finalText()
		assert.True(t, ok)
		assert.Equal(t, "first", text)
	})

	t.Run("should report no text for an empty transcript", func(t *testing.T) {
		s := newTestSession(t, 3, 0)
		_, ok := s.finalText()
		assert.False(t, ok)
	})

	t.Run("should return a copy of the pending delegation", func(t *testing.T) {
		s := newTestSession(t, 3, 0)
		s.pendingDelegation = &Delegation{RequestID: "1", Task: "t"}

		d := s.PendingDelegation()
		d.Task = "changed"
		assert.Equal(t, "t", s.PendingDelegation().Task)
	})
}
