package commands

import (
	"fmt"
	"strings"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"github.com/LluisCV99/jarvis/pkg/models"
)

func (i *Interceptor) handleModel(c CommandContext) string {
	if len(c.Args) < 3 {
		return "⚠️ Usage: `/model <agent> <provider> <model>`\nExample: `/model jarvis ollama gpt-oss:20b`"
	}

	agent := strings.ToLower(c.Args[0])
	provider := strings.ToLower(c.Args[1])
	model := c.Args[2]

	if !i.validAgent(agent) {
		return i.unknownAgent(agent)
	}

	catalog, err := i.store.Available(agent)
	if err != nil {
		return fmt.Sprintf("❌ %v", err)
	}

	list, ok := catalog.Models(provider)
	if !ok {
		return fmt.Sprintf("❌ Unknown provider `%s` for `%s`. Available providers: %s",
			provider, agent, strings.Join(catalog.Providers(), ", "))
	}

	if !catalog.Has(provider, model) {
		quoted := make([]string, len(list))
		for idx, m := range list {
			quoted[idx] = "`" + m + "`"
		}
		return fmt.Sprintf("❌ Model `%s` not found for `%s` on `%s`. Available: %s",
			model, agent, provider, strings.Join(quoted, ", "))
	}

	meta := map[string]interface{}{
		"agent":    agent,
		"provider": provider,
		"model":    model,
	}
	if err := i.store.Update(agent, provider, model); err != nil {
		meta["error"] = err.Error()
		observability.RecordConfigAudit(c.Context, "model_changed", "user", "failure", meta)
		logger := tracing.LoggerFromContext(c.Context, i.logger)
		logger.Error().Err(err).Msg("Failed to change model")
		return fmt.Sprintf("❌ Failed to change model: %v", err)
	}
	observability.RecordConfigAudit(c.Context, "model_changed", "user", "success", meta)

	return fmt.Sprintf("✅ `%s` model changed to `%s` on `%s`", agent, model, provider)
}

func (i *Interceptor) handleModels(c CommandContext) string {
	switch {
	case len(c.Args) >= 2:
		return i.listByAgentAndProvider(strings.ToLower(c.Args[0]), strings.ToLower(c.Args[1]))
	case len(c.Args) == 1:
		return i.listByAgent(strings.ToLower(c.Args[0]))
	default:
		return i.listAll()
	}
}

func (i *Interceptor) listAll() string {
	lines := []string{"📋 **Available Models:**\n"}

	for _, agent := range i.agents {
		catalog, err := i.store.Available(agent)
		if err != nil {
			continue
		}
		lines = append(lines, "### "+agent)
		lines = appendCatalog(lines, catalog)
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

func (i *Interceptor) listByAgent(agent string) string {
	if !i.validAgent(agent) {
		return i.unknownAgent(agent)
	}

	catalog, err := i.store.Available(agent)
	if err != nil {
		return fmt.Sprintf("❌ %v", err)
	}

	lines := []string{fmt.Sprintf("📋 **Models for %s:**\n", agent)}
	lines = appendCatalog(lines, catalog)
	return strings.Join(lines, "\n")
}

func (i *Interceptor) listByAgentAndProvider(agent, provider string) string {
	if !i.validAgent(agent) {
		return i.unknownAgent(agent)
	}

	catalog, err := i.store.Available(agent)
	if err != nil {
		return fmt.Sprintf("❌ %v", err)
	}

	list, ok := catalog.Models(provider)
	if !ok {
		return fmt.Sprintf("❌ Unknown provider `%s` for `%s`. Available providers: %s",
			provider, agent, strings.Join(catalog.Providers(), ", "))
	}

	lines := []string{fmt.Sprintf("📋 **Models for %s (%s):**\n", agent, provider)}
	for _, m := range list {
		lines = append(lines, fmt.Sprintf("  - `%s`", m))
	}
	return strings.Join(lines, "\n")
}

func appendCatalog(lines []string, catalog models.Catalog) []string {
	for _, p := range catalog {
		lines = append(lines, fmt.Sprintf("  **%s**", p.Provider))
		for _, m := range p.Models {
			lines = append(lines, fmt.Sprintf("    - `%s`", m))
		}
	}
	return lines
}

func (i *Interceptor) handleStatus(c CommandContext) string {
	lines := []string{"📊 **System Status:**\n"}

	for _, agent := range i.agents {
		sel, err := i.store.Active(agent)
		if err != nil {
			continue
		}
		provider, model := sel.Provider, sel.Model
		if provider == "" {
			provider = "N/A"
		}
		if model == "" {
			model = "N/A"
		}
		lines = append(lines,
			fmt.Sprintf("**%s**", agent),
			fmt.Sprintf("  - Provider: `%s`", provider),
			fmt.Sprintf("  - Model: `%s`", model),
			"  - Status: 🟢 Active",
			"",
		)
	}

	if i.stats != nil {
		stats := i.stats.GetStats()
		lines = append(lines,
			"**delegations**",
			fmt.Sprintf("  - Total: %d", stats.TotalRuns),
			fmt.Sprintf("  - Active: %d", stats.ActiveRuns),
			fmt.Sprintf("  - Completed: %d", stats.CompletedRuns),
			fmt.Sprintf("  - Failed: %d", stats.FailedRuns+stats.AbortedRuns),
			"",
		)
	}

	return strings.Join(lines, "\n")
}

func (i *Interceptor) handleHelp(c CommandContext) string {
	lines := []string{"💡 **Available Commands:**\n"}
	for _, cmd := range i.commands {
		lines = append(lines,
			fmt.Sprintf("**`%s`** — %s", cmd.Name, cmd.Description),
			fmt.Sprintf("  Usage: `%s`", cmd.Usage),
			"",
		)
	}
	return strings.Join(lines, "\n")
}
