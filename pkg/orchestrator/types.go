package orchestrator

import "context"

// Role identifies who produced a transcript message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"     // result of a tool request
	RoleDelegate  Role = "delegate" // reply of the sub-agent folded into the primary transcript
)

// ToolRequest is a structured instruction from an assistant message
type ToolRequest struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Message is one transcript entry. Messages are never modified once appended.
type Message struct {
	Role          Role          `json:"role"`
	Content       string        `json:"content"`
	ToolRequests  []ToolRequest `json:"tool_requests,omitempty"`
	ToolRequestID string        `json:"tool_request_id,omitempty"`
	Name          string        `json:"name,omitempty"`
}

// HasToolRequests reports whether the message asks for tool calls
func (m Message) HasToolRequests() bool {
	return len(m.ToolRequests) > 0
}

// Reply is what an agent returns for one invocation
type Reply struct {
	Text         string
	ToolRequests []ToolRequest
}

// AgentClient invokes one agent role against a transcript
type AgentClient interface {
	Invoke(ctx context.Context, transcript []Message) (Reply, error)
}

// ToolRegistry executes named tools. Execute never fails: unknown tools and
// tool errors come back as result text.
type ToolRegistry interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) string
}

// CommandInterceptor answers reserved-prefix input without any agent
type CommandInterceptor interface {
	TryHandle(ctx context.Context, raw string) (handled bool, response string)
}

// DelegationTracker records delegations to the sub-agent
type DelegationTracker interface {
	Begin(ctx context.Context, agent, task string) string
	Complete(runID string, reply string, err error)
}

// Request is the host's input to RunTurn
type Request struct {
	UserText  string `json:"user_text"`
	MaxCalls  int    `json:"max_calls"`
	CallCount int    `json:"call_count"`
}

// Response is the outcome of a turn
type Response struct {
	FinalText  string    `json:"final_text"`
	Errors     []string  `json:"errors"`
	CallCount  int       `json:"call_count"`
	State      State     `json:"state"`
	Path       []State   `json:"path"`
	Transcript []Message `json:"transcript,omitempty"`

	// Cause is ErrBudgetExceeded when the budget ended the turn, nil otherwise
	Cause error `json:"-"`
}

// Delegation is a pending hand-off to the sub-agent
type Delegation struct {
	RequestID string
	Agent     string
	Task      string
}
