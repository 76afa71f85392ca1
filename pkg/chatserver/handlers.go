package chatserver

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LluisCV99/jarvis/pkg/commandqueue"
	"github.com/google/uuid"
)

//go:embed static/chat.html
var chatPage []byte

const maxBodyBytes = 1 << 20

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(chatPage)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.begin() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Server is shutting down"})
		return
	}
	defer s.inFlightReqs.Done()

	ip := getClientIP(r)
	if !s.rateLimiter.CheckLimit(ip) {
		retryAfter := s.rateLimiter.GetRetryAfter(ip)
		s.logger.Warn().Str("ip", ip).Int("retryAfter", retryAfter).Msg("Rate limit exceeded")

		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Too Many Requests"})
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON"})
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Empty message"})
		return
	}

	requestID := r.Header.Get(RequestIDHeader)
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	} else {
		w.Header().Set(RequestIDHeader, uuid.NewString())
	}

	text, err := s.runTurn(r.Context(), ip, requestID, message)
	if errors.Is(err, commandqueue.ErrDuplicateRequest) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Duplicate request"})
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: text})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"lanes":     s.queue.GetStats(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
