package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Category    ToolCategory    `json:"category,omitempty"`
	Handler     ToolHandler     `json:"-"`
}

func (d ToolDefinition) category() ToolCategory {
	if d.Category == "" {
		return CategoryGeneral
	}
	return d.Category
}

// JSONSchema returns the parameter schema as a generic map, the shape every
// provider's function-calling API accepts
func (d ToolDefinition) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}

	for _, param := range d.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Type == "array" {
			paramSchema["items"] = map[string]interface{}{"type": "string"}
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	err error
}

// Err returns the sentinel-wrapped error of a failed result
func (r ToolResult) Err() error {
	return r.err
}

// Text renders the result the way agents read it
func (r ToolResult) Text() string {
	if !r.Success {
		return r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(data)
}

// Config holds executor limits
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         *zerolog.Logger
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools          map[string]*ToolDefinition
	schemas        map[string]*gojsonschema.Schema
	timeout        time.Duration
	maxOutputBytes int
	logger         zerolog.Logger
	mu             sync.RWMutex
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	te := &ToolExecutor{
		tools:          make(map[string]*ToolDefinition),
		schemas:        make(map[string]*gojsonschema.Schema),
		timeout:        cfg.Timeout,
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         logger.With().Str("component", "toolexecutor").Logger(),
	}
	if te.timeout <= 0 {
		te.timeout = defaultTimeout
	}
	if te.maxOutputBytes <= 0 {
		te.maxOutputBytes = defaultMaxOutputBytes
	}

	te.logger.Debug().Msg("Tool executor initialized")

	return te
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.JSONSchema()))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	te.logger.Debug().Str("tool", def.Name).Str("category", string(def.category())).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// Definitions returns the definitions allowed by policy, sorted by name
func (te *ToolExecutor) Definitions(policy *ToolPolicy) []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		if policy.Permits(*def) {
			defs = append(defs, *def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		te.logger.Warn().Str("tool", toolName).Msg("Tool not found")
		return failure(fmt.Errorf("%w: %s", ErrToolNotFound, toolName), nil)
	}

	if execCtx != nil && !execCtx.Policy.Permits(*tool) {
		te.logger.Warn().
			Str("tool", toolName).
			Str("agent", execCtx.Agent).
			Msg("Tool execution blocked by policy")
		return failure(fmt.Errorf("tool '%s' is not allowed for agent %s: %w", toolName, execCtx.Agent, ErrPolicyViolation),
			map[string]interface{}{
				"policy_violation": true,
				"agent":            execCtx.Agent,
			})
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		te.logger.Warn().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return failure(fmt.Errorf("%w: %v", ErrInvalidParameters, err), nil)
	}

	timeout := te.timeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		output interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := tool.Handler(timeoutCtx, params)
		done <- outcome{output: output, err: err}
	}()

	select {
	case res := <-done:
		duration := time.Since(startTime)
		meta := map[string]interface{}{"duration": duration.Milliseconds()}

		if res.err != nil {
			te.logger.Warn().
				Str("tool", toolName).
				Dur("duration", duration).
				Err(res.err).
				Msg("Tool execution failed")
			return failure(fmt.Errorf("%w: %s: %v", ErrToolExecution, toolName, res.err), meta)
		}

		output, truncated := te.truncateOutput(res.output)

		te.logger.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata:  meta,
		}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)

		te.logger.Warn().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return failure(fmt.Errorf("%w after %v", ErrToolTimeout, timeout),
			map[string]interface{}{"duration": duration.Milliseconds()})
	}
}

func failure(err error, meta map[string]interface{}) ToolResult {
	return ToolResult{
		Success:  false,
		Error:    err.Error(),
		Metadata: meta,
		err:      err,
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.Category != "" && !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category %s", def.Category)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%v", errs)
	}

	return nil
}

// truncateOutput cuts string output past the size limit. Structured output
// is rendered to JSON first so the limit applies to what the agent reads.
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	str, ok := output.(string)
	if !ok {
		if output == nil {
			return nil, false
		}
		data, err := json.Marshal(output)
		if err != nil {
			return output, false
		}
		if len(data) <= te.maxOutputBytes {
			return output, false
		}
		str = string(data)
	}

	if len(str) <= te.maxOutputBytes {
		return output, false
	}

	te.logger.Warn().
		Int("original", len(str)).
		Int("truncated", te.maxOutputBytes).
		Msg("Output truncated")

	cut := te.maxOutputBytes
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + "\n... [output truncated]", true
}
