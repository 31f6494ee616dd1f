// Package sessions tracks in-flight streaming chat sessions and the content
// accumulated for each, so pollers can read partial output while tokens are
// still arriving.
package sessions

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrDuplicateSession is returned when creating a session ID that is
	// already active.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrUnknownSession is returned when appending to a session that was
	// never created or has already been removed.
	ErrUnknownSession = errors.New("unknown session")
)

type entry struct {
	buf       strings.Builder
	createdAt time.Time
}

// Registry is a concurrency-safe map of active streaming sessions.
// Appends only ever grow a session's content, so a poller's reads are
// prefix-consistent: each read returns at least what the previous one did.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl    time.Duration
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewRegistry creates an empty registry. Sessions older than ttl are reaped
// once the janitor is started; a zero ttl disables reaping.
func NewRegistry(ttl time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		logger:  logger.With().Str("component", "sessions").Logger(),
	}
}

// Create registers a new empty session.
func (r *Registry) Create(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[sessionID]; exists {
		return ErrDuplicateSession
	}
	r.entries[sessionID] = &entry{createdAt: time.Now()}
	r.logger.Debug().Str("session_id", sessionID).Msg("Session created")
	return nil
}

// Append adds chunk to the session's accumulated content.
func (r *Registry) Append(sessionID, chunk string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	e.buf.WriteString(chunk)
	return nil
}

// Read returns the content accumulated so far and whether the session is
// active. A removed or never-created session reads as ("", false).
func (r *Registry) Read(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return "", false
	}
	return e.buf.String(), true
}

// Remove drops the session. Removing an unknown session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; ok {
		delete(r.entries, sessionID)
		r.logger.Debug().Str("session_id", sessionID).Msg("Session removed")
	}
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartJanitor begins reaping sessions older than the registry TTL.
// Sessions are normally removed when their stream completes; the janitor only
// catches streams that died without cleanup.
func (r *Registry) StartJanitor() {
	if r.ttl <= 0 || r.cron != nil {
		return
	}
	r.cron = cron.New()
	r.cron.AddFunc("@every 1m", r.reap)
	r.cron.Start()
	r.logger.Info().Dur("ttl", r.ttl).Msg("Session janitor started")
}

// StopJanitor stops the reaper. Waits for an in-flight reap to finish.
func (r *Registry) StopJanitor() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.cron = nil
}

func (r *Registry) reap() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.createdAt.Before(cutoff) {
			delete(r.entries, id)
			r.logger.Warn().Str("session_id", id).Time("created_at", e.createdAt).
				Msg("Reaped expired session")
		}
	}
}
