package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Call makes an API call to Google Gemini
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	model := p.client.GenerativeModel(request.Model)

	if request.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(request.SystemPrompt)},
		}
	}
	if request.Temperature > 0 {
		model.SetTemperature(float32(request.Temperature))
	}
	if request.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(request.MaxTokens))
	}
	if len(request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, tool := range request.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  geminiSchema(tool.InputSchema),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := geminiContents(request.Messages)
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return nil, fmt.Errorf("gemini: conversation must end with a user turn")
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	resp, err := cs.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: empty response")
	}

	result := &LLMResponse{ToolCalls: []ToolCall{}}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Name:       v.Name,
				Parameters: v.Args,
			})
		}
	}
	result.Content = text.String()

	if resp.UsageMetadata != nil {
		result.Usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

// geminiContents converts the transcript into alternating user and model
// contents. Tool results answer by function name, so names are looked up
// from the calls that produced them.
func geminiContents(messages []AgentMessage) []*genai.Content {
	callNames := make(map[string]string)
	var out []*genai.Content

	add := func(role string, part genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{part}})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			add("user", genai.Text(msg.Content))
		case RoleAssistant:
			if msg.Content != "" {
				add("model", genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				add("model", genai.FunctionCall{Name: tc.Name, Args: tc.Parameters})
			}
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				add("model", genai.Text(""))
			}
		case RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = msg.Name
			}
			add("user", genai.FunctionResponse{
				Name:     name,
				Response: map[string]any{"result": msg.Content},
			})
		}
	}
	return out
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// geminiSchema converts a JSON schema map into the SDK's schema type
func geminiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		out.Type = geminiTypes[t]
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = geminiSchema(items)
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if m, ok := prop.(map[string]interface{}); ok {
				out.Properties[name] = geminiSchema(m)
			}
		}
	}
	out.Required = schemaRequired(schema)
	return out
}
