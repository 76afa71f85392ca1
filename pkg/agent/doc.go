// Package agent connects agent roles to LLM providers.
//
// A Client implements orchestrator.AgentClient for one named agent. On every
// invocation it resolves the agent's active model from the model store,
// picks the provider through a ProviderSource and translates the transcript
// into that provider's message format.
//
// Supported providers: anthropic, openai, gemini and ollama.
//
// Usage:
//
//	factory := agent.NewProviderFactory(profiles)
//	client, _ := agent.NewClient(agent.Config{
//		Name:      "jarvis",
//		Models:    store,
//		Providers: factory,
//		Tools:     registry,
//	})
//	reply, _ := client.Invoke(ctx, transcript)
package agent
