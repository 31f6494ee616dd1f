package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// sseWriter delivers chat.Handler callbacks as server-sent events.
// It is driven from the single streaming goroutine, so no locking is needed.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) event(name, data string) {
	// Multi-line payloads need one data: line each per the SSE framing rules.
	fmt.Fprintf(s.w, "event: %s\n", name)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	fmt.Fprint(s.w, "\n")
	s.flusher.Flush()
}

func (s *sseWriter) OnNext(token string)             { s.event("token", token) }
func (s *sseWriter) OnComplete(finalResponse string) { s.event("complete", finalResponse) }
func (s *sseWriter) OnError(err error)               { s.event("error", err.Error()) }

// handleStream opens a token stream. The session id is acknowledged first so
// the client can poll /api/chat/stream/{sessionID} while tokens arrive.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStreamRequest(w, r)
	if !ok {
		return
	}

	flusher, okFlush := w.(http.Flusher)
	if !okFlush {
		s.errorResponse(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.NewString()
	sse := &sseWriter{w: w, flusher: flusher}
	sse.event("session-id", sessionID)

	// Bounded lifetime so abandoned streams are reclaimed even if the client
	// never disconnects.
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StreamTimeout)
	defer cancel()

	if err := s.chat.StreamChat(ctx, sessionID, req.Message, req.Scenario, req.Variables, sse); err != nil {
		s.logger.Error().Str("session_id", sessionID).Err(err).Msg("Failed to start stream")
		sse.event("error", err.Error())
	}
}

// decodeStreamRequest accepts either GET query parameters or a POST JSON body.
func (s *Server) decodeStreamRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	if r.Method == http.MethodGet {
		req := chatRequest{
			Message:  r.URL.Query().Get("message"),
			Scenario: r.URL.Query().Get("scenario"),
		}
		if req.Message == "" {
			s.errorResponse(w, http.StatusBadRequest, "message is required")
			return req, false
		}
		return req, true
	}
	return s.decodeChatRequest(w, r)
}
