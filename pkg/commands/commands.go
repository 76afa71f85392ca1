// Package commands answers slash commands without involving any agent.
// Interceptor implements orchestrator.CommandInterceptor.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"github.com/LluisCV99/jarvis/pkg/models"
	"github.com/LluisCV99/jarvis/pkg/subagent"
	"github.com/rs/zerolog"
)

// Prefix marks input as a command
const Prefix = "/"

// ErrUnknownCommand is returned by Execute for unregistered commands
var ErrUnknownCommand = errors.New("unknown command")

// ModelStore is the part of the model store commands read and change
type ModelStore interface {
	Active(agent string) (models.Selection, error)
	Available(agent string) (models.Catalog, error)
	Update(agent, provider, model string) error
}

// StatsSource reports delegation statistics for /status
type StatsSource interface {
	GetStats() subagent.Stats
}

// CommandContext contains command metadata
type CommandContext struct {
	Context context.Context
	Command string
	Args    []string
	Raw     string
}

// Handler answers one command
type Handler func(CommandContext) string

// Command describes a registered command
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     Handler
}

// Config holds interceptor configuration
type Config struct {
	Store ModelStore
	// Agents lists the agents commands may address, in display order
	Agents []string
	Stats  StatsSource
	Logger zerolog.Logger
}

// Interceptor parses and dispatches slash commands
type Interceptor struct {
	store    ModelStore
	agents   []string
	stats    StatsSource
	logger   zerolog.Logger
	commands []Command
	handlers map[string]Handler
}

// New creates an interceptor with the built-in commands registered
func New(cfg Config) (*Interceptor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("model store is required")
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = []string{"jarvis", "coder"}
	}

	agents := make([]string, len(cfg.Agents))
	for i, a := range cfg.Agents {
		agents[i] = strings.ToLower(a)
	}

	i := &Interceptor{
		store:    cfg.Store,
		agents:   agents,
		stats:    cfg.Stats,
		logger:   cfg.Logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]Handler),
	}

	i.Register(Command{
		Name:        "/model",
		Description: "Change the active model of an agent",
		Usage:       "/model <agent> <provider> <model>",
		Handler:     i.handleModel,
	})
	i.Register(Command{
		Name:        "/models",
		Description: "List available models, optionally for one agent and provider",
		Usage:       "/models [agent] [provider]",
		Handler:     i.handleModels,
	})
	i.Register(Command{
		Name:        "/status",
		Description: "Show the active model of every agent",
		Usage:       "/status",
		Handler:     i.handleStatus,
	})
	i.Register(Command{
		Name:        "/help",
		Description: "Show this help message",
		Usage:       "/help",
		Handler:     i.handleHelp,
	})

	return i, nil
}

// Register adds or replaces a command
func (i *Interceptor) Register(cmd Command) {
	cmd.Name = strings.ToLower(cmd.Name)
	if _, exists := i.handlers[cmd.Name]; !exists {
		i.commands = append(i.commands, cmd)
	} else {
		for idx := range i.commands {
			if i.commands[idx].Name == cmd.Name {
				i.commands[idx] = cmd
			}
		}
	}
	i.handlers[cmd.Name] = cmd.Handler
}

// Commands returns the registered commands in registration order
func (i *Interceptor) Commands() []Command {
	out := make([]Command, len(i.commands))
	copy(out, i.commands)
	return out
}

// IsCommand reports whether raw would be handled as a command
func IsCommand(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), Prefix)
}

// TryHandle answers raw when it is a command. Unknown commands are still
// handled, with an error text.
func (i *Interceptor) TryHandle(ctx context.Context, raw string) (bool, string) {
	if !IsCommand(raw) {
		return false, ""
	}

	response, err := i.Execute(ctx, raw)
	if errors.Is(err, ErrUnknownCommand) {
		return true, fmt.Sprintf("❌ Unknown command `%s`. Type `/help` to see available commands.", commandName(raw))
	}
	return true, response
}

// Execute runs a command and returns its response
func (i *Interceptor) Execute(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Fields(raw)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], Prefix) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}

	cctx := CommandContext{
		Context: ctx,
		Command: strings.ToLower(parts[0]),
		Args:    parts[1:],
		Raw:     raw,
	}

	logger := tracing.LoggerFromContext(ctx, i.logger)
	logger.Debug().
		Str("command", cctx.Command).
		Strs("args", cctx.Args).
		Msg("Command received")

	handler, exists := i.handlers[cctx.Command]
	if !exists {
		observability.RecordCommand("unknown")
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cctx.Command)
	}

	observability.RecordCommand(cctx.Command)
	return handler(cctx), nil
}

func commandName(raw string) string {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return Prefix
	}
	return strings.ToLower(parts[0])
}

func (i *Interceptor) validAgent(agent string) bool {
	for _, a := range i.agents {
		if a == agent {
			return true
		}
	}
	return false
}

func (i *Interceptor) unknownAgent(agent string) string {
	return fmt.Sprintf("❌ Unknown agent `%s`. Available agents: %s", agent, strings.Join(i.agents, ", "))
}
