package chatserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LluisCV99/jarvis/internal/observability"
	"github.com/LluisCV99/jarvis/internal/tracing"
	"github.com/LluisCV99/jarvis/pkg/commandqueue"
	"github.com/LluisCV99/jarvis/pkg/orchestrator"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the client's idempotency key
const RequestIDHeader = "X-Request-ID"

// Server is the chat HTTP server
type Server struct {
	options     ServerOptions
	server      *http.Server
	runner      TurnRunner
	queue       *commandqueue.CommandQueue
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	startTime   time.Time

	conns   map[*websocket.Conn]struct{}
	connsMu sync.Mutex

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new chat server
func NewServer(options ServerOptions, runner TurnRunner, queue *commandqueue.CommandQueue, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 5000
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 60
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}
	if options.MaxCalls == 0 {
		options.MaxCalls = 6
	}

	if runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	observability.EnsureRegistered()

	return &Server{
		options:     options,
		runner:      runner,
		queue:       queue,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      logger.With().Str("component", "chatserver").Logger(),
		startTime:   time.Now(),
		conns:       make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local chat page and CLI clients
			},
		},
	}, nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	if s.options.WebSocket {
		mux.HandleFunc("/ws", s.handleWebSocket)
	}
	return mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Bool("websocket", s.options.WebSocket).
		Msg("Starting chat server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start chat server: %w", err)
	}

	return nil
}

// Stop rejects new turns, waits for in-flight ones and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down chat server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight turns completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("Shutdown interrupted, forcing close")
	}

	s.rateLimiter.Stop()

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	s.connsMu.Unlock()

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown chat server: %w", err)
	}

	s.logger.Info().Msg("Chat server stopped")
	return nil
}

// begin registers an in-flight request unless the server is stopping
func (s *Server) begin() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()

	if s.isShuttingDown {
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

// runTurn queues a turn on the client's lane and returns its final text.
// Failures other than duplicate requests become an "Error: " reply.
func (s *Server) runTurn(ctx context.Context, ip, requestID, message string) (string, error) {
	lane := "client:" + ip
	ctx = tracing.WithSessionKey(ctx, lane)
	if requestID != "" {
		ctx = tracing.WithRequestID(ctx, requestID)
	}

	req := orchestrator.Request{
		UserText:  message,
		MaxCalls:  s.options.MaxCalls,
		CallCount: s.options.CallCount,
	}

	result, err := s.queue.Enqueue(ctx, lane, func(ctx context.Context) (interface{}, error) {
		return s.runner.RunTurn(ctx, req)
	}, &commandqueue.TaskOptions{
		RequestID: requestID,
		WarnAfter: 30 * time.Second,
	})
	if err != nil {
		if errors.Is(err, commandqueue.ErrDuplicateRequest) {
			return "", err
		}
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Error().Err(err).Str("ip", ip).Msg("Turn failed")
		return "Error: " + err.Error(), nil
	}

	resp, ok := result.(orchestrator.Response)
	if !ok {
		return "Error: unexpected turn result", nil
	}
	return resp.FinalText, nil
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
