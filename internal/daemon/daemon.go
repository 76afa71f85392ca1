package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/LluisCV99/jarvis/internal/config"
	"github.com/LluisCV99/jarvis/internal/logger"
	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"github.com/LluisCV99/jarvis/pkg/agent"
	"github.com/LluisCV99/jarvis/pkg/chatserver"
	"github.com/LluisCV99/jarvis/pkg/commandqueue"
	"github.com/LluisCV99/jarvis/pkg/commands"
	"github.com/LluisCV99/jarvis/pkg/models"
	"github.com/LluisCV99/jarvis/pkg/orchestrator"
	"github.com/LluisCV99/jarvis/pkg/subagent"
	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
	"github.com/LluisCV99/jarvis/pkg/tools"
)

// Daemon wires every jarvis component together and owns their lifecycle
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store        *models.FileStore
	watcher      *models.Watcher
	backups      *models.BackupScheduler
	providers    *agent.ProviderFactory
	toolExecutor *toolexecutor.ToolExecutor
	profiles     *orchestrator.ProfileRegistry
	coordinator  *subagent.Coordinator
	commands     *commands.Interceptor
	orchestrator *orchestrator.Orchestrator
	queue        *commandqueue.CommandQueue

	// Services
	chatServer *chatserver.Server
	serveErr   chan error

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon state
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New creates a daemon with all core modules initialized. Nothing listens
// until Start is called, so a daemon can also run single turns via Ask.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		serveErr: make(chan error, 1),
	}

	if cfg.Telemetry.TracingEnabled {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds the modules in dependency order
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	store, err := models.Open(cfg.Models.Path, d.logger.Component("models"))
	if err != nil {
		return fmt.Errorf("failed to open model store: %w", err)
	}
	d.store = store
	d.logger.Info().Str("path", store.Path()).Msg("Model store opened")

	profiles, err := d.loadProfiles()
	if err != nil {
		return err
	}
	d.profiles = profiles

	primaryProfile, err := profiles.Primary(cfg.Agents.Primary)
	if err != nil {
		return err
	}
	subProfile, err := profiles.Sub(cfg.Agents.Sub)
	if err != nil {
		return err
	}

	d.toolExecutor = toolexecutor.New(toolexecutor.Config{
		Timeout:        cfg.ToolTimeout(),
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
		Logger:         &zl,
	})
	if err := tools.Register(d.toolExecutor, tools.Options{WorkingDir: cfg.Tools.WorkingDir}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	d.logger.Info().Strs("tools", d.toolExecutor.ListTools()).Msg("Tools registered")

	base := &toolexecutor.ToolPolicy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny}
	primaryTools := toolexecutor.NewRegistry(d.toolExecutor, toolexecutor.RegistryOptions{
		Agent:      primaryProfile.Name,
		WorkingDir: cfg.Tools.WorkingDir,
		Timeout:    cfg.ToolTimeout(),
		Policy:     toolexecutor.MergePolicies(base, toolexecutor.AllowOnly(primaryProfile.Tools...)),
	})
	subTools := toolexecutor.NewRegistry(d.toolExecutor, toolexecutor.RegistryOptions{
		Agent:      subProfile.Name,
		WorkingDir: cfg.Tools.WorkingDir,
		Timeout:    cfg.ToolTimeout(),
		Policy:     toolexecutor.MergePolicies(base, toolexecutor.AllowOnly(subProfile.Tools...)),
	})

	d.providers = agent.NewProviderFactory(convertAuthProfiles(cfg.Providers))

	primaryClient, err := agent.NewClient(agent.Config{
		Name:        primaryProfile.Name,
		Models:      store,
		Providers:   d.providers,
		Tools:       primaryTools,
		ExtraTools:  []toolexecutor.ToolDefinition{tools.DelegationTool(cfg.Turn.DelegateTool, subProfile.Name)},
		Temperature: cfg.Providers.Temperature,
		MaxTokens:   cfg.Providers.MaxTokens,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", primaryProfile.Name, err)
	}
	subClient, err := agent.NewClient(agent.Config{
		Name:        subProfile.Name,
		Models:      store,
		Providers:   d.providers,
		Tools:       subTools,
		Temperature: cfg.Providers.Temperature,
		MaxTokens:   cfg.Providers.MaxTokens,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", subProfile.Name, err)
	}
	d.logger.Info().Str("primary", primaryProfile.Name).Str("sub", subProfile.Name).Msg("Agent clients initialized")

	d.coordinator = subagent.NewCoordinator(subagent.Config{
		RegistryPath: filepath.Join(cfg.DataDir, "subagents.json"),
		AutoSave:     true,
		Logger:       zl,
	})
	if err := d.coordinator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize subagent coordinator: %w", err)
	}

	d.commands, err = commands.New(commands.Config{
		Store:  store,
		Agents: []string{primaryProfile.Name, subProfile.Name},
		Stats:  d.coordinator,
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create command interceptor: %w", err)
	}

	d.orchestrator, err = orchestrator.New(orchestrator.Config{
		Primary:          primaryClient,
		SubAgent:         subClient,
		Tools:            primaryTools,
		SubAgentTools:    subTools,
		Commands:         d.commands,
		Delegations:      d.coordinator,
		PrimaryName:      primaryProfile.Name,
		SubAgentName:     subProfile.Name,
		SystemPrompt:     primaryProfile.SystemPrompt,
		SubAgentPrompt:   subProfile.SystemPrompt,
		DelegateTool:     cfg.Turn.DelegateTool,
		SubAgentMaxCalls: cfg.Turn.SubAgentMaxCalls,
		ParallelTools:    cfg.Turn.ParallelTools,
		RetryOnFailure:   cfg.Turn.RetryOnFailure,
		Timeout:          cfg.TurnTimeout(),
		Logger:           zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.logger.Info().Msg("Orchestrator initialized")

	d.queue = commandqueue.New(commandqueue.Config{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		DedupWindow:   time.Duration(cfg.Queue.DedupWindow) * time.Second,
		Logger:        zl,
	})
	d.logger.Info().Msg("Command queue initialized")

	return nil
}

// loadProfiles reads the profile file when present and falls back to the
// built-in jarvis and coder profiles
func (d *Daemon) loadProfiles() (*orchestrator.ProfileRegistry, error) {
	path := d.config.Agents.ProfilesPath
	profiles := orchestrator.DefaultProfiles()

	if _, err := os.Stat(path); err == nil {
		loaded, err := orchestrator.LoadProfiles(path)
		if err != nil {
			return nil, err
		}
		profiles = loaded
		d.logger.Info().Str("path", path).Int("count", len(loaded)).Msg("Agent profiles loaded")
	} else {
		d.logger.Debug().Str("path", path).Msg("No agent profile file, using built-in profiles")
	}

	return orchestrator.NewProfileRegistry(profiles...)
}

func convertAuthProfiles(cfg config.ProvidersConfig) []agent.AuthProfile {
	var profiles []agent.AuthProfile
	add := func(name string, p config.ProviderConfig) {
		if p.APIKey == "" && p.BaseURL == "" {
			return
		}
		profiles = append(profiles, agent.AuthProfile{Provider: name, APIKey: p.APIKey, BaseURL: p.BaseURL})
	}
	add("anthropic", cfg.Anthropic)
	add("openai", cfg.OpenAI)
	add("gemini", cfg.Gemini)
	add("ollama", cfg.Ollama)
	return profiles
}

// Ask runs a single turn outside the chat server
func (d *Daemon) Ask(ctx context.Context, text string) (orchestrator.Response, error) {
	return d.orchestrator.RunTurn(ctx, orchestrator.Request{
		UserText:  text,
		MaxCalls:  d.config.Turn.MaxCalls,
		CallCount: d.config.Turn.InitialCallCount,
	})
}

// Start starts the background services and the chat server
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting Jarvis daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Models.Watch {
		watcher, err := models.NewWatcher(d.store, models.WatcherConfig{
			OnReload: func(err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("Model store reload failed, keeping previous selection")
				}
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create model store watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start model store watcher: %w", err)
		}
		d.watcher = watcher
		logger.Info().Msg("Model store watcher started")
	}

	if d.config.Models.BackupSchedule != "" {
		backups, err := models.NewBackupScheduler(d.store, d.config.Models.BackupSchedule, d.config.Models.BackupPath)
		if err != nil {
			return fmt.Errorf("failed to create backup scheduler: %w", err)
		}
		backups.Start()
		d.backups = backups
		logger.Info().Str("schedule", d.config.Models.BackupSchedule).Msg("Model store backups scheduled")
	}

	server, err := chatserver.NewServer(chatserver.ServerOptions{
		Host:               d.config.Server.Host,
		Port:               d.config.Server.Port,
		RateLimitPerMinute: d.config.Server.RateLimit,
		ReadTimeout:        time.Duration(d.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(d.config.Server.WriteTimeout) * time.Second,
		WebSocket:          d.config.Server.WebSocket,
		MaxCalls:           d.config.Turn.MaxCalls,
		CallCount:          d.config.Turn.InitialCallCount,
	}, d.orchestrator, d.queue, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create chat server: %w", err)
	}
	d.chatServer = server

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := server.Start(); err != nil {
			d.serveErr <- err
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Str("address", d.config.Server.Address()).Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping Jarvis daemon")

	if d.chatServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.chatServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop chat server")
		}
		cancel()
	}

	d.eventLoop.HandleShutdown()

	if d.backups != nil {
		d.backups.Stop()
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop model store watcher")
		}
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.Close()

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases the core modules. Stop calls it; callers that never
// started the daemon call it directly.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close command queue")
		}
	}
	if d.coordinator != nil {
		if err := d.coordinator.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close subagent coordinator")
		}
	}
	if d.providers != nil {
		if err := d.providers.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close providers")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close audit logger")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT, SIGTERM or a chat server failure, then stops
// the daemon
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
		d.logger.Error().Err(serveErr).Msg("Chat server failed")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
	return serveErr
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetModelStore returns the model selection store
func (d *Daemon) GetModelStore() *models.FileStore {
	return d.store
}

// GetOrchestrator returns the orchestrator
func (d *Daemon) GetOrchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}

// GetSubagentCoordinator returns the delegation coordinator
func (d *Daemon) GetSubagentCoordinator() *subagent.Coordinator {
	return d.coordinator
}

// GetQueue returns the turn queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetChatServer returns the chat server, nil before Start
func (d *Daemon) GetChatServer() *chatserver.Server {
	return d.chatServer
}
