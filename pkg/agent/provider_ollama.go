package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// DefaultOllamaHost is used when no base URL is configured
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider implements LLMProvider for a local Ollama server
type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(host string) (*OllamaProvider, error) {
	if host == "" {
		host = DefaultOllamaHost
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	httpClient := &http.Client{
		Timeout: 5 * time.Minute,
	}

	return &OllamaProvider{client: ollama.NewClient(u, httpClient)}, nil
}

// Provider returns the provider name
func (p *OllamaProvider) Provider() string {
	return "ollama"
}

// Call makes a chat call against the Ollama server
func (p *OllamaProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := ollamaMessages(request.SystemPrompt, request.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := ollamaTools(request.Tools)
	if err != nil {
		return nil, err
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    request.Model,
		Messages: messages,
		Stream:   &stream,
		Tools:    tools,
		Options:  map[string]any{},
	}
	if request.Temperature > 0 {
		req.Options["temperature"] = request.Temperature
	}
	if request.MaxTokens > 0 {
		req.Options["num_predict"] = request.MaxTokens
	}

	var (
		text strings.Builder
		last ollama.ChatResponse
	)
	if err := p.client.Chat(ctx, req, func(cr ollama.ChatResponse) error {
		text.WriteString(cr.Message.Content)
		if len(cr.Message.ToolCalls) > 0 {
			last.Message.ToolCalls = append(last.Message.ToolCalls, cr.Message.ToolCalls...)
		}
		if cr.Done {
			last.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return nil, err
	}

	calls, err := ollamaToolCalls(last.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &LLMResponse{
		Content:   text.String(),
		ToolCalls: calls,
		Usage: &TokenUsage{
			InputTokens:  last.Metrics.PromptEvalCount,
			OutputTokens: last.Metrics.EvalCount,
		},
	}, nil
}

// The wire shapes below mirror the server's chat API. Requests are
// encoded through them and decoded into the SDK types, which keeps this
// file independent of how the SDK spells optional fields.

type ollamaWireFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ollamaWireCall struct {
	ID       string             `json:"id,omitempty"`
	Function ollamaWireFunction `json:"function"`
}

type ollamaWireMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaWireCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaWireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

func ollamaMessages(systemPrompt string, msgs []AgentMessage) ([]ollama.Message, error) {
	callNames := make(map[string]string)
	wire := []ollamaWireMessage{}

	if systemPrompt != "" {
		wire = append(wire, ollamaWireMessage{Role: RoleSystem, Content: systemPrompt})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser:
			wire = append(wire, ollamaWireMessage{Role: RoleUser, Content: msg.Content})
		case RoleAssistant:
			m := ollamaWireMessage{Role: RoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				args := tc.Parameters
				if args == nil {
					args = map[string]interface{}{}
				}
				m.ToolCalls = append(m.ToolCalls, ollamaWireCall{
					Function: ollamaWireFunction{Name: tc.Name, Arguments: args},
				})
			}
			wire = append(wire, m)
		case RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = msg.Name
			}
			wire = append(wire, ollamaWireMessage{Role: RoleTool, Content: msg.Content, ToolName: name})
		}
	}

	var out []ollama.Message
	if err := convertJSON(wire, &out); err != nil {
		return nil, fmt.Errorf("failed to encode ollama messages: %w", err)
	}
	return out, nil
}

func ollamaTools(specs []ToolSpec) (ollama.Tools, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	wire := make([]ollamaWireTool, len(specs))
	for i, spec := range specs {
		wire[i].Type = "function"
		wire[i].Function.Name = spec.Name
		wire[i].Function.Description = spec.Description
		wire[i].Function.Parameters = spec.InputSchema
	}

	var out ollama.Tools
	if err := convertJSON(wire, &out); err != nil {
		return nil, fmt.Errorf("failed to encode ollama tools: %w", err)
	}
	return out, nil
}

func ollamaToolCalls(calls []ollama.ToolCall) ([]ToolCall, error) {
	if len(calls) == 0 {
		return []ToolCall{}, nil
	}

	var wire []ollamaWireCall
	if err := convertJSON(calls, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode ollama tool calls: %w", err)
	}

	out := make([]ToolCall, len(wire))
	for i, c := range wire {
		out[i] = ToolCall{ID: c.ID, Name: c.Function.Name, Parameters: c.Function.Arguments}
	}
	return out, nil
}

func convertJSON(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
