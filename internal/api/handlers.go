package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/talefold/talefold/internal/story"
)

// ── Worlds ────────────────────────────────────────────────────────────────

type worldRequest struct {
	Name   string              `json:"name"`
	Rules  string              `json:"rules"`
	Schema []story.SchemaField `json:"schema"`
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req worldRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	world := story.World{
		ID:        uuid.NewString(),
		OwnerID:   s.OwnerID,
		Name:      req.Name,
		Rules:     req.Rules,
		Schema:    req.Schema,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := world.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.DB.CreateWorld(r.Context(), &world); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, world)
}

func (s *Server) handleListWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := s.DB.ListWorlds(r.Context(), s.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worlds)
}

func (s *Server) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	world, err := s.DB.GetWorld(r.Context(), s.OwnerID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, world)
}

func (s *Server) handleUpdateWorld(w http.ResponseWriter, r *http.Request) {
	var req worldRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	world := story.World{
		ID:        r.PathValue("id"),
		OwnerID:   s.OwnerID,
		Name:      req.Name,
		Rules:     req.Rules,
		Schema:    req.Schema,
		UpdatedAt: time.Now().UTC(),
	}
	if err := world.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.DB.UpdateWorld(r.Context(), &world); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, world)
}

func (s *Server) handleDeleteWorld(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.DeleteWorld(r.Context(), s.OwnerID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Characters ────────────────────────────────────────────────────────────

type characterRequest struct {
	Name    string   `json:"name"`
	Profile string   `json:"profile"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req characterRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	c := story.Character{
		ID:        uuid.NewString(),
		OwnerID:   s.OwnerID,
		Name:      req.Name,
		Profile:   req.Profile,
		Tags:      req.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.DB.CreateCharacter(r.Context(), &c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.DB.ListCharacters(r.Context(), s.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chars)
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := s.DB.GetCharacter(r.Context(), s.OwnerID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCharacter(w http.ResponseWriter, r *http.Request) {
	var req characterRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	c := story.Character{
		ID:        r.PathValue("id"),
		OwnerID:   s.OwnerID,
		Name:      req.Name,
		Profile:   req.Profile,
		Tags:      req.Tags,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.DB.UpdateCharacter(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.DeleteCharacter(r.Context(), s.OwnerID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Stories ───────────────────────────────────────────────────────────────

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorldID string `json:"world_id"`
		Title   string `json:"title"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	st := story.Story{
		ID:        uuid.NewString(),
		OwnerID:   s.OwnerID,
		WorldID:   req.WorldID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.DB.CreateStory(r.Context(), &st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := s.DB.ListStories(r.Context(), s.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	st, err := s.DB.GetStory(r.Context(), s.OwnerID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	cast, err := s.DB.StoryCast(r.Context(), st.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	rels, err := s.DB.StoryRelationships(r.Context(), st.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"story":         st,
		"cast":          cast,
		"relationships": rels,
	})
}

func (s *Server) handleDeleteStory(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.DeleteStory(r.Context(), s.OwnerID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddCast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CharacterID     string `json:"character_id"`
		ProfileOverride string `json:"profile_override"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sc := story.StoryCharacter{
		ID:              uuid.NewString(),
		StoryID:         r.PathValue("id"),
		CharacterID:     req.CharacterID,
		ProfileOverride: req.ProfileOverride,
	}
	if err := s.DB.AddStoryCharacter(r.Context(), s.OwnerID, &sc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleUpdateCast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileOverride string `json:"profile_override"`
		StateSummary    string `json:"state_summary"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sc := story.StoryCharacter{
		ID:              r.PathValue("castID"),
		StoryID:         r.PathValue("id"),
		ProfileOverride: req.ProfileOverride,
		StateSummary:    req.StateSummary,
	}
	if err := s.DB.UpdateStoryCharacter(r.Context(), s.OwnerID, &sc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleSetRelationship(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string   `json:"id"`
		FromID string   `json:"from_id"`
		ToID   string   `json:"to_id"`
		Score  float64  `json:"score"`
		Tags   []string `json:"tags"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	rel := story.Relationship{
		ID:      req.ID,
		StoryID: r.PathValue("id"),
		FromID:  req.FromID,
		ToID:    req.ToID,
		Score:   req.Score,
		Tags:    req.Tags,
	}
	if err := s.DB.SetRelationship(r.Context(), s.OwnerID, &rel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := s.DB.Turns(r.Context(), s.OwnerID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleChangeLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.DB.ChangeLog(r.Context(), s.OwnerID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ── Provider settings ─────────────────────────────────────────────────────

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider     string  `json:"provider"`
		Credential   string  `json:"credential"`
		DefaultModel string  `json:"default_model"`
		Temperature  float64 `json:"temperature"`
		TopP         float64 `json:"top_p"`
		MaxTokens    int     `json:"max_tokens"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	settings := story.ProviderSettings{
		OwnerID:      s.OwnerID,
		Provider:     req.Provider,
		Credential:   req.Credential,
		DefaultModel: req.DefaultModel,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		MaxTokens:    req.MaxTokens,
	}
	if err := s.DB.SetProviderSettings(r.Context(), &settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProvider reports the configuration without the credential.
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	settings, err := s.DB.ProviderSettings(r.Context(), s.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
