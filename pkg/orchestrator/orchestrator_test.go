package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAgentClient is a mock implementation of AgentClient
type MockAgentClient struct {
	mock.Mock
}

func (m *MockAgentClient) Invoke(ctx context.Context, transcript []Message) (Reply, error) {
	args := m.Called(ctx, transcript)
	return args.Get(0).(Reply), args.Error(1)
}

// fakeTools answers from a table of handlers. Unknown names produce the
// not-found text the production registry produces.
type fakeTools struct {
	mu       sync.Mutex
	handlers map[string]func(args map[string]interface{}) string
	delays   map[string]time.Duration
	calls    []string
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		handlers: make(map[string]func(args map[string]interface{}) string),
		delays:   make(map[string]time.Duration),
	}
}

func (f *fakeTools) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	h, ok := f.handlers[name]
	d := f.delays[name]
	f.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	if !ok {
		return "tool not found: " + name
	}
	return h(args)
}

func (f *fakeTools) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeCommands struct {
	prefix string
	reply  string
}

func (f *fakeCommands) TryHandle(ctx context.Context, raw string) (bool, string) {
	if strings.HasPrefix(strings.TrimSpace(raw), f.prefix) {
		return true, f.reply
	}
	return false, ""
}

type trackedRun struct {
	agent, task, reply string
	err                error
	done               bool
}

type fakeTracker struct {
	mu   sync.Mutex
	runs map[string]*trackedRun
	seq  int
}

func (f *fakeTracker) Begin(ctx context.Context, agent, task string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]*trackedRun)
	}
	f.seq++
	id := fmt.Sprintf("run-%d", f.seq)
	f.runs[id] = &trackedRun{agent: agent, task: task}
	return id
}

func (f *fakeTracker) Complete(runID, reply string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.reply, r.err, r.done = reply, err, true
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	cfg.Logger = testLogger()
	o, err := New(cfg)
	require.NoError(t, err)
	return o
}

func toolMessages(transcript []Message) []Message {
	var out []Message
	for _, m := range transcript {
		if m.Role == RoleTool || m.Role == RoleDelegate {
			out = append(out, m)
		}
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("should require a primary agent", func(t *testing.T) {
		_, err := New(Config{Tools: newFakeTools()})
		assert.Error(t, err)
	})

	t.Run("should require a tool registry", func(t *testing.T) {
		_, err := New(Config{Primary: &MockAgentClient{}})
		assert.Error(t, err)
	})

	t.Run("should require a delegate tool with a sub-agent", func(t *testing.T) {
		_, err := New(Config{Primary: &MockAgentClient{}, SubAgent: &MockAgentClient{}, Tools: newFakeTools()})
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		o := newTestOrchestrator(t, Config{Primary: &MockAgentClient{}, Tools: newFakeTools()})
		assert.Equal(t, "primary", o.primaryName)
		assert.Equal(t, "sub-agent", o.subAgentName)
		assert.Equal(t, 1, o.subAgentMaxCalls)
	})
}

func TestRunTurn_InvalidRequest(t *testing.T) {
	o := newTestOrchestrator(t, Config{Primary: &MockAgentClient{}, Tools: newFakeTools()})

	_, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 0})
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 1, CallCount: -1})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestRunTurn_SingleReply(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "hello"}, nil).Once()

	o := newTestOrchestrator(t, Config{
		Primary:      primary,
		Tools:        newFakeTools(),
		SystemPrompt: "be nice",
	})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 1})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.FinalText)
	assert.Equal(t, 1, resp.CallCount)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, StateEnded, resp.State)
	assert.Equal(t, []State{StateStart, StateInvokingPrimaryAgent, StateEnded}, resp.Path)

	require.Len(t, resp.Transcript, 3)
	assert.Equal(t, RoleSystem, resp.Transcript[0].Role)
	assert.Equal(t, "hi", resp.Transcript[1].Content)
	assert.Equal(t, RoleAssistant, resp.Transcript[2].Role)

	transcript := primary.Calls[0].Arguments.Get(1).([]Message)
	assert.Len(t, transcript, 2)
	primary.AssertExpectations(t)
}

func TestRunTurn_NoToolRequestsEndsBeforeBudget(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "done"}, nil).Once()

	o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools()})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 6})
	require.NoError(t, err)

	assert.Equal(t, "done", resp.FinalText)
	assert.Equal(t, 1, resp.CallCount)
	assert.NoError(t, resp.Cause)
}

func TestRunTurn_CommandIntercepted(t *testing.T) {
	primary := &MockAgentClient{}
	tools := newFakeTools()

	o := newTestOrchestrator(t, Config{
		Primary:  primary,
		Tools:    tools,
		Commands: &fakeCommands{prefix: "/", reply: "status report"},
	})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "/status", MaxCalls: 6, CallCount: 2})
	require.NoError(t, err)

	assert.Equal(t, "status report", resp.FinalText)
	assert.Equal(t, 2, resp.CallCount)
	assert.Equal(t, StateCommandIntercepted, resp.State)
	assert.Equal(t, []State{StateStart, StateCommandIntercepted}, resp.Path)
	assert.Empty(t, resp.Transcript)
	assert.Empty(t, tools.Calls())
	primary.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestRunTurn_AgentFailure(t *testing.T) {
	t.Run("should end after one failed call by default", func(t *testing.T) {
		primary := &MockAgentClient{}
		primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{}, errors.New("connection refused"))

		o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools(), PrimaryName: "jarvis"})

		resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 3})
		require.NoError(t, err)

		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0], "jarvis")
		assert.Contains(t, resp.Errors[0], "connection refused")
		assert.Equal(t, 1, resp.CallCount)
		assert.Equal(t, FallbackText, resp.FinalText)
		primary.AssertNumberOfCalls(t, "Invoke", 1)
	})

	t.Run("should retry until the budget is spent", func(t *testing.T) {
		primary := &MockAgentClient{}
		primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{}, errors.New("boom"))

		o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools(), RetryOnFailure: true})

		resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 3})
		require.NoError(t, err)

		assert.Len(t, resp.Errors, 3)
		assert.Equal(t, 3, resp.CallCount)
		assert.Equal(t, FallbackText, resp.FinalText)
		assert.True(t, errors.Is(resp.Cause, ErrBudgetExceeded))
		primary.AssertNumberOfCalls(t, "Invoke", 3)
	})

	t.Run("should recover when a retry succeeds", func(t *testing.T) {
		primary := &MockAgentClient{}
		primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{}, errors.New("flaky")).Once()
		primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "ok"}, nil).Once()

		o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools(), RetryOnFailure: true})

		resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 3})
		require.NoError(t, err)

		assert.Equal(t, "ok", resp.FinalText)
		assert.Len(t, resp.Errors, 1)
		assert.Equal(t, 2, resp.CallCount)
	})
}

func TestRunTurn_ToolLoop(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		ToolRequests: []ToolRequest{{Name: "get_location"}},
	}, nil).Once()
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "You are in Barcelona."}, nil).Once()

	tools := newFakeTools()
	tools.handlers["get_location"] = func(map[string]interface{}) string { return "Barcelona" }

	o := newTestOrchestrator(t, Config{Primary: primary, Tools: tools})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "where am I?", MaxCalls: 6})
	require.NoError(t, err)

	assert.Equal(t, "You are in Barcelona.", resp.FinalText)
	assert.Equal(t, 2, resp.CallCount)
	assert.Equal(t, []State{
		StateStart,
		StateInvokingPrimaryAgent,
		StateInvokingTools,
		StateInvokingPrimaryAgent,
		StateEnded,
	}, resp.Path)

	results := toolMessages(resp.Transcript)
	require.Len(t, results, 1)
	assert.Equal(t, "call_1_0", results[0].ToolRequestID)
	assert.Equal(t, "Barcelona", results[0].Content)

	// The second call sees the tool result
	second := primary.Calls[1].Arguments.Get(1).([]Message)
	assert.Equal(t, RoleTool, second[len(second)-1].Role)
}

func TestRunTurn_ToolResultsKeepRequestOrder(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			primary := &MockAgentClient{}
			primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
				ToolRequests: []ToolRequest{
					{ID: "a", Name: "slow"},
					{ID: "b", Name: "fast"},
				},
			}, nil).Once()
			primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "done"}, nil).Once()

			tools := newFakeTools()
			tools.handlers["slow"] = func(map[string]interface{}) string { return "A" }
			tools.handlers["fast"] = func(map[string]interface{}) string { return "B" }
			tools.delays["slow"] = 50 * time.Millisecond

			o := newTestOrchestrator(t, Config{Primary: primary, Tools: tools, ParallelTools: parallel})

			resp, err := o.RunTurn(context.Background(), Request{UserText: "go", MaxCalls: 6})
			require.NoError(t, err)

			results := toolMessages(resp.Transcript)
			require.Len(t, results, 2)
			assert.Equal(t, "a", results[0].ToolRequestID)
			assert.Equal(t, "A", results[0].Content)
			assert.Equal(t, "b", results[1].ToolRequestID)
			assert.Equal(t, "B", results[1].Content)
		})
	}
}

func TestRunTurn_UnknownTool(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		ToolRequests: []ToolRequest{{Name: "search", Args: map[string]interface{}{"query": "x"}}},
	}, nil).Once()
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "sorry"}, nil).Once()

	o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools()})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "search x", MaxCalls: 6})
	require.NoError(t, err)

	results := toolMessages(resp.Transcript)
	require.Len(t, results, 1)
	assert.Equal(t, "tool not found: search", results[0].Content)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, StateInvokingPrimaryAgent, resp.Path[3])
	assert.Equal(t, "sorry", resp.FinalText)
}

func TestRunTurn_BudgetBoundsToolLoop(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		Text:         "checking",
		ToolRequests: []ToolRequest{{Name: "get_location"}},
	}, nil)

	tools := newFakeTools()
	tools.handlers["get_location"] = func(map[string]interface{}) string { return "Barcelona" }

	o := newTestOrchestrator(t, Config{Primary: primary, Tools: tools})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "loop", MaxCalls: 4})
	require.NoError(t, err)

	assert.Equal(t, 4, resp.CallCount)
	assert.LessOrEqual(t, resp.CallCount, 4+1)
	assert.True(t, errors.Is(resp.Cause, ErrBudgetExceeded))
	assert.Equal(t, "checking", resp.FinalText)
	assert.LessOrEqual(t, len(resp.Path)-1, StepLimit(4, 0))
	// The last reply's requests are never executed once the budget is spent
	assert.Len(t, tools.Calls(), 3)
}

func TestRunTurn_InitialCallCountAtBudget(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		Text:         "first",
		ToolRequests: []ToolRequest{{Name: "get_location"}},
	}, nil).Once()

	o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools()})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 2, CallCount: 5})
	require.NoError(t, err)

	assert.Equal(t, 6, resp.CallCount)
	assert.Equal(t, "first", resp.FinalText)
	primary.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestRunTurn_Delegation(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		ToolRequests: []ToolRequest{
			{ID: "d1", Name: "call_coder", Args: map[string]interface{}{"prompt": "write fizzbuzz"}},
			{ID: "t1", Name: "get_location"},
		},
	}, nil).Once()
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "Here is fizzbuzz."}, nil).Once()

	sub := &MockAgentClient{}
	sub.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "func fizzbuzz() {}"}, nil).Once()

	tools := newFakeTools()
	tracker := &fakeTracker{}

	o := newTestOrchestrator(t, Config{
		Primary:        primary,
		SubAgent:       sub,
		Tools:          tools,
		Delegations:    tracker,
		PrimaryName:    "jarvis",
		SubAgentName:   "coder",
		SystemPrompt:   "primary prompt",
		SubAgentPrompt: "coder prompt",
		DelegateTool:   "call_coder",
	})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "code please", MaxCalls: 6})
	require.NoError(t, err)

	assert.Equal(t, "Here is fizzbuzz.", resp.FinalText)
	assert.Equal(t, 2, resp.CallCount)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, []State{
		StateStart,
		StateInvokingPrimaryAgent,
		StateInvokingSubAgent,
		StateInvokingPrimaryAgent,
		StateEnded,
	}, resp.Path)

	// The sub-agent gets a fresh transcript
	subTranscript := sub.Calls[0].Arguments.Get(1).([]Message)
	require.Len(t, subTranscript, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: "coder prompt"}, subTranscript[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "write fizzbuzz"}, subTranscript[1])

	results := toolMessages(resp.Transcript)
	require.Len(t, results, 2)
	assert.Equal(t, RoleDelegate, results[0].Role)
	assert.Equal(t, "d1", results[0].ToolRequestID)
	assert.Equal(t, "coder", results[0].Name)
	assert.Equal(t, "func fizzbuzz() {}", results[0].Content)
	assert.Equal(t, RoleTool, results[1].Role)
	assert.Equal(t, "t1", results[1].ToolRequestID)
	assert.Contains(t, results[1].Content, "not executed")

	// Sibling requests are answered, not executed
	assert.Empty(t, tools.Calls())

	require.Len(t, tracker.runs, 1)
	run := tracker.runs["run-1"]
	assert.Equal(t, "coder", run.agent)
	assert.Equal(t, "write fizzbuzz", run.task)
	assert.True(t, run.done)
	assert.NoError(t, run.err)
}

func TestRunTurn_DelegationTaskFallback(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		Text:         "Please write a parser",
		ToolRequests: []ToolRequest{{Name: "call_coder"}},
	}, nil).Once()
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "ok"}, nil).Once()

	sub := &MockAgentClient{}
	sub.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "parser"}, nil).Once()

	o := newTestOrchestrator(t, Config{
		Primary:      primary,
		SubAgent:     sub,
		Tools:        newFakeTools(),
		DelegateTool: "call_coder",
	})

	_, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 6})
	require.NoError(t, err)

	subTranscript := sub.Calls[0].Arguments.Get(1).([]Message)
	require.Len(t, subTranscript, 1)
	assert.Equal(t, "Please write a parser", subTranscript[0].Content)
}

func TestRunTurn_DelegationFailure(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		ToolRequests: []ToolRequest{{ID: "d1", Name: "call_coder", Args: map[string]interface{}{"prompt": "x"}}},
	}, nil).Once()
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "the coder is down"}, nil).Once()

	sub := &MockAgentClient{}
	sub.On("Invoke", mock.Anything, mock.Anything).Return(Reply{}, errors.New("model not loaded"))

	tracker := &fakeTracker{}
	o := newTestOrchestrator(t, Config{
		Primary:      primary,
		SubAgent:     sub,
		Tools:        newFakeTools(),
		Delegations:  tracker,
		SubAgentName: "coder",
		DelegateTool: "call_coder",
	})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "code", MaxCalls: 6})
	require.NoError(t, err)

	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "coder")
	assert.Contains(t, resp.Errors[0], "model not loaded")

	results := toolMessages(resp.Transcript)
	require.Len(t, results, 1)
	assert.Equal(t, RoleDelegate, results[0].Role)
	assert.Empty(t, results[0].Content)

	// Sub-agent calls do not count against the primary budget
	assert.Equal(t, 2, resp.CallCount)
	assert.Equal(t, "the coder is down", resp.FinalText)
	assert.Error(t, tracker.runs["run-1"].err)
}

func TestRunTurn_SubAgentToolLoop(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		ToolRequests: []ToolRequest{{Name: "call_coder", Args: map[string]interface{}{"prompt": "list files"}}},
	}, nil).Once()
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "done"}, nil).Once()

	sub := &MockAgentClient{}
	sub.On("Invoke", mock.Anything, mock.Anything).Return(Reply{
		ToolRequests: []ToolRequest{{Name: "list_files"}},
	}, nil).Once()
	sub.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "main.go"}, nil).Once()

	subTools := newFakeTools()
	subTools.handlers["list_files"] = func(map[string]interface{}) string { return "main.go" }

	o := newTestOrchestrator(t, Config{
		Primary:          primary,
		SubAgent:         sub,
		Tools:            newFakeTools(),
		SubAgentTools:    subTools,
		DelegateTool:     "call_coder",
		SubAgentMaxCalls: 3,
	})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "files?", MaxCalls: 6})
	require.NoError(t, err)

	assert.Equal(t, []string{"list_files"}, subTools.Calls())
	results := toolMessages(resp.Transcript)
	require.Len(t, results, 1)
	assert.Equal(t, "main.go", results[0].Content)
	assert.Equal(t, 2, resp.CallCount)

	// The private tool loop stays out of the primary transcript
	for _, m := range resp.Transcript {
		assert.NotEqual(t, "list_files", m.Name)
	}
}

func TestRunTurn_Deadline(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(Reply{Text: "too late"}, nil)

	o := newTestOrchestrator(t, Config{
		Primary:        primary,
		Tools:          newFakeTools(),
		Timeout:        20 * time.Millisecond,
		RetryOnFailure: true,
	})

	resp, err := o.RunTurn(context.Background(), Request{UserText: "hi", MaxCalls: 2})
	require.NoError(t, err)

	assert.Equal(t, FallbackText, resp.FinalText)
	assert.Len(t, resp.Errors, 2)
	assert.Contains(t, resp.Errors[0], context.DeadlineExceeded.Error())
	assert.Equal(t, 2, resp.CallCount)
}

func TestRunTurn_ConcurrentTurns(t *testing.T) {
	primary := &MockAgentClient{}
	primary.On("Invoke", mock.Anything, mock.Anything).Return(Reply{Text: "pong"}, nil)

	o := newTestOrchestrator(t, Config{Primary: primary, Tools: newFakeTools()})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := o.RunTurn(context.Background(), Request{UserText: "ping", MaxCalls: 2})
			assert.NoError(t, err)
			assert.Equal(t, "pong", resp.FinalText)
			assert.Equal(t, 1, resp.CallCount)
		}()
	}
	wg.Wait()
}
