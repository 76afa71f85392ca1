package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderSource resolves a provider by name
type ProviderSource interface {
	Provider(ctx context.Context, name string) (LLMProvider, error)
}

// ProviderFactory creates LLM providers from auth profiles and reuses them
// across calls
type ProviderFactory struct {
	profiles map[string]AuthProfile

	mu    sync.Mutex
	cache map[string]LLMProvider
}

// NewProviderFactory creates a factory for the given credentials. Ollama
// needs no profile.
func NewProviderFactory(profiles []AuthProfile) *ProviderFactory {
	byName := make(map[string]AuthProfile, len(profiles))
	for _, p := range profiles {
		byName[strings.ToLower(p.Provider)] = p
	}
	return &ProviderFactory{
		profiles: byName,
		cache:    make(map[string]LLMProvider),
	}
}

// Provider returns the provider called name, creating it on first use
func (f *ProviderFactory) Provider(ctx context.Context, name string) (LLMProvider, error) {
	name = strings.ToLower(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[name]; ok {
		return p, nil
	}

	p, err := f.newProvider(ctx, name, f.profiles[name])
	if err != nil {
		return nil, err
	}
	f.cache[name] = p
	return p, nil
}

// newProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) newProvider(ctx context.Context, name string, profile AuthProfile) (LLMProvider, error) {
	switch name {
	case "anthropic":
		if profile.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is not configured")
		}
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		if profile.APIKey == "" {
			return nil, fmt.Errorf("openai API key is not configured")
		}
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	case "gemini":
		if profile.APIKey == "" {
			return nil, fmt.Errorf("gemini API key is not configured")
		}
		return NewGeminiProvider(ctx, profile.APIKey)
	case "ollama":
		return NewOllamaProvider(profile.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// Close releases providers that hold connections
func (f *ProviderFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, p := range f.cache {
		if c, ok := p.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(f.cache, name)
	}
	return firstErr
}
