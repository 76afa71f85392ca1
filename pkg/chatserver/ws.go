package chatserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/LluisCV99/jarvis/pkg/commandqueue"
	"github.com/gorilla/websocket"
)

// handleWebSocket answers every text frame {"message"} with {"response"}.
// Frames of one connection are processed in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	ip := getClientIP(r)
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.logger.Info().Str("ip", ip).Msg("Client connected")

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
		s.logger.Info().Str("ip", ip).Msg("Client disconnected")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("ip", ip).Msg("WebSocket error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := conn.WriteJSON(s.handleFrame(r, ip, data)); err != nil {
			s.logger.Error().Err(err).Str("ip", ip).Msg("Failed to write websocket reply")
			return
		}
	}
}

func (s *Server) handleFrame(r *http.Request, ip string, data []byte) interface{} {
	if !s.begin() {
		return ErrorResponse{Error: "Server is shutting down"}
	}
	defer s.inFlightReqs.Done()

	if !s.rateLimiter.CheckLimit(ip) {
		return ErrorResponse{Error: "Too Many Requests"}
	}

	var req struct {
		ChatRequest
		RequestID string `json:"request_id,omitempty"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrorResponse{Error: "Invalid JSON"}
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ErrorResponse{Error: "Empty message"}
	}

	text, err := s.runTurn(r.Context(), ip, req.RequestID, message)
	if errors.Is(err, commandqueue.ErrDuplicateRequest) {
		return ErrorResponse{Error: "Duplicate request"}
	}
	return ChatResponse{Response: text}
}
