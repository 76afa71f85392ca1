package chatserver

import (
	"context"
	"time"

	"github.com/LluisCV99/jarvis/pkg/orchestrator"
)

// TurnRunner runs one user turn
type TurnRunner interface {
	RunTurn(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// ServerOptions configures the chat server
type ServerOptions struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	WebSocket          bool

	// Per-turn budget handed to the orchestrator
	MaxCalls  int
	CallCount int
}

// ChatRequest is the body of POST /chat and of every websocket frame
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the final text of a turn
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitState tracks request timestamps for an IP
type RateLimitState struct {
	Requests []int64 // Unix timestamps in milliseconds
}
