// Package api serves the platform over HTTP. All endpoints require a bearer
// token; LLM-consuming endpoints are additionally rate limited.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/store"
	"github.com/talefold/talefold/internal/story"
	"github.com/talefold/talefold/internal/turn"
)

// Server serves the talefold HTTP API.
type Server struct {
	DB      *store.DB
	Engine  *turn.Engine
	Addr    string
	APIKey  string
	OwnerID string

	// Per-story turn serialization: two interleaved persistence phases
	// would be last-write-wins on state rows, so turn submission for one
	// story is single-writer here at the calling layer.
	locksMu    sync.Mutex
	storyLocks map[string]*sync.Mutex
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	turnLimiter := NewRateLimiter(60, time.Hour)
	suggestLimiter := NewRateLimiter(120, time.Hour)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/worlds", s.handleCreateWorld)
	mux.HandleFunc("GET /api/v1/worlds", s.handleListWorlds)
	mux.HandleFunc("GET /api/v1/worlds/{id}", s.handleGetWorld)
	mux.HandleFunc("PUT /api/v1/worlds/{id}", s.handleUpdateWorld)
	mux.HandleFunc("DELETE /api/v1/worlds/{id}", s.handleDeleteWorld)

	mux.HandleFunc("POST /api/v1/characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /api/v1/characters", s.handleListCharacters)
	mux.HandleFunc("GET /api/v1/characters/{id}", s.handleGetCharacter)
	mux.HandleFunc("PUT /api/v1/characters/{id}", s.handleUpdateCharacter)
	mux.HandleFunc("DELETE /api/v1/characters/{id}", s.handleDeleteCharacter)

	mux.HandleFunc("POST /api/v1/stories", s.handleCreateStory)
	mux.HandleFunc("GET /api/v1/stories", s.handleListStories)
	mux.HandleFunc("GET /api/v1/stories/{id}", s.handleGetStory)
	mux.HandleFunc("DELETE /api/v1/stories/{id}", s.handleDeleteStory)
	mux.HandleFunc("POST /api/v1/stories/{id}/characters", s.handleAddCast)
	mux.HandleFunc("PUT /api/v1/stories/{id}/characters/{castID}", s.handleUpdateCast)
	mux.HandleFunc("PUT /api/v1/stories/{id}/relationships", s.handleSetRelationship)
	mux.HandleFunc("GET /api/v1/stories/{id}/turns", s.handleListTurns)
	mux.HandleFunc("GET /api/v1/stories/{id}/changelog", s.handleChangeLog)

	mux.HandleFunc("POST /api/v1/stories/{id}/turns",
		RateLimitMiddleware(turnLimiter, s.handleExecuteTurn))
	mux.HandleFunc("POST /api/v1/stories/{id}/suggestions",
		RateLimitMiddleware(suggestLimiter, s.handleSuggest))

	mux.HandleFunc("PUT /api/v1/settings/provider", s.handleSetProvider)
	mux.HandleFunc("GET /api/v1/settings/provider", s.handleGetProvider)

	return s.auth(mux)
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP API starting", "addr", s.Addr)
	return http.ListenAndServe(s.Addr, s.Handler())
}

// auth enforces the bearer token on every request. An unset key disables the
// API entirely rather than running it open.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey == "" {
			http.Error(w, "API disabled: no API key configured", http.StatusServiceUnavailable)
			return
		}
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

// storyLock returns the submission mutex for a story, creating it on first
// use. Locks are never removed; the map grows with the number of stories
// turned on in this process, which is fine at this scale.
func (s *Server) storyLock(storyID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.storyLocks == nil {
		s.storyLocks = make(map[string]*sync.Mutex)
	}
	mu, ok := s.storyLocks[storyID]
	if !ok {
		mu = &sync.Mutex{}
		s.storyLocks[storyID] = mu
	}
	return mu
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeError maps pipeline errors to status codes and human-readable
// messages. Callers can tell "configure your provider" from "try again"
// from "this story's data is off" by the status and message.
func writeError(w http.ResponseWriter, err error) {
	var invokeErr *llm.InvokeError
	var persistErr *turn.PersistError

	switch {
	case errors.Is(err, story.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})

	case errors.Is(err, turn.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user input must not be empty"})

	case errors.Is(err, llm.ErrNotConfigured):
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{
			"error": "no AI provider configured — set your provider credentials first",
		})

	case errors.As(err, &invokeErr):
		if invokeErr.Kind == llm.KindTransient {
			if invokeErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(invokeErr.RetryAfter.Seconds())+1))
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "the AI provider is unavailable — try again shortly",
			})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "the AI provider returned an unusable response — try again",
		})

	case errors.As(err, &persistErr):
		slog.Error("persistence failure", "step", persistErr.Step, "error", persistErr.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to save the turn (step: %s)", persistErr.Step),
		})

	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
