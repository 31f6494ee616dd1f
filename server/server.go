// Package server exposes the chat REST and SSE surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"scenariod/chat"
	"scenariod/conversations"
	"scenariod/prompts"
)

// ChatService is the orchestrator surface the server depends on.
type ChatService interface {
	Chat(ctx context.Context, message, scenario string, variables map[string]string) string
	StreamChat(ctx context.Context, sessionID, message, scenario string, variables map[string]string, handler chat.Handler) error
	ReadSession(sessionID string) (string, bool)
	Prompts() *prompts.Manager
}

// Options configures the HTTP server.
type Options struct {
	Addr          string
	ChatTimeout   time.Duration
	StreamTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	chat        ChatService
	transcripts *conversations.Store // optional, nil disables the history endpoint
	opts        Options
	router      chi.Router
	http        *http.Server
	logger      zerolog.Logger
}

// New creates the server and mounts all routes. transcripts may be nil.
func New(svc ChatService, transcripts *conversations.Store, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		chat:        svc,
		transcripts: transcripts,
		opts:        opts,
		logger:      logger.With().Str("component", "server").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", s.handleChat)
		r.Post("/with-variables", s.handleChatWithVariables)
		r.Get("/stream", s.handleStream)
		r.Post("/stream", s.handleStream)
		r.Get("/stream/{sessionID}", s.handlePollStream)
		r.Get("/history/{sessionID}", s.handleHistory)
		r.Get("/scenarios", s.handleListScenarios)
		r.Get("/current-scenario", s.handleCurrentScenario)
		r.Post("/current-scenario", s.handleSetCurrentScenario)
		r.Post("/add-scenario", s.handleAddScenario)
	})

	s.router = r
}

// Handler returns the mounted router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	Message   string            `json:"message"`
	Scenario  string            `json:"scenario,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ChatTimeout)
	defer cancel()

	text := s.chat.Chat(ctx, req.Message, req.Scenario, nil)
	s.writeJSON(w, http.StatusOK, chatResponse{Response: text})
}

func (s *Server) handleChatWithVariables(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ChatTimeout)
	defer cancel()

	text := s.chat.Chat(ctx, req.Message, req.Scenario, req.Variables)
	s.writeJSON(w, http.StatusOK, chatResponse{Response: text})
}

func (s *Server) handlePollStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	content, active := s.chat.ReadSession(sessionID)
	status := "active"
	if !active {
		status = "not_found"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"content": content,
		"status":  status,
	})
}

// handleHistory returns the most recent persisted transcript rows for a
// session, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		s.errorResponse(w, http.StatusNotFound, "transcript persistence is disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	limit := uint64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.transcripts.LoadRecent(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error().Str("session_id", sessionID).Err(err).Msg("Failed to load transcript")
		s.errorResponse(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	messages := lo.Map(records, func(rec conversations.Record, _ int) map[string]any {
		return map[string]any{
			"role":       rec.Role,
			"content":    rec.Content,
			"tool_name":  rec.ToolName,
			"created_at": rec.CreatedAt,
		}
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	mgr := s.chat.Prompts()
	names := mgr.ListScenarios()
	scenarios := lo.Map(names, func(name string, _ int) map[string]string {
		return map[string]string{"name": name}
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scenarios":        scenarios,
		"current_scenario": mgr.CurrentScenario(),
	})
}

func (s *Server) handleCurrentScenario(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"current_scenario": s.chat.Prompts().CurrentScenario(),
	})
}

func (s *Server) handleSetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scenario == "" {
		s.errorResponse(w, http.StatusBadRequest, "scenario is required")
		return
	}
	s.chat.Prompts().SetCurrentScenario(req.Scenario)
	s.writeJSON(w, http.StatusOK, map[string]string{"current_scenario": req.Scenario})
}

func (s *Server) handleAddScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario string `json:"scenario"`
		Prompt   string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scenario == "" || req.Prompt == "" {
		s.errorResponse(w, http.StatusBadRequest, "scenario and prompt are required")
		return
	}
	s.chat.Prompts().AddTemplate(req.Scenario, req.Prompt)
	s.writeJSON(w, http.StatusOK, map[string]string{"scenario": req.Scenario})
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	return req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
