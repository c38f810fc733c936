package api

import (
	"net/http"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/turn"
)

type turnRequest struct {
	Input       string  `json:"input"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Window      int     `json:"window,omitempty"`
}

func (req *turnRequest) executeRequest(ownerID, storyID string) turn.ExecuteRequest {
	return turn.ExecuteRequest{
		UserID:  ownerID,
		StoryID: storyID,
		Input:   req.Input,
		Model:   req.Model,
		Params: llm.GenParams{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
		},
		Window: req.Window,
	}
}

// handleExecuteTurn runs one turn of the story. Submissions for the same
// story are serialized; concurrent requests queue rather than interleave
// their persistence phases.
func (s *Server) handleExecuteTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	storyID := r.PathValue("id")
	lock := s.storyLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.Engine.Execute(r.Context(), req.executeRequest(s.OwnerID, storyID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleSuggest returns candidate next-actions. Advisory only, so no
// serialization against turns is needed.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	suggestions, err := s.Engine.Suggest(r.Context(), req.executeRequest(s.OwnerID, r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}
