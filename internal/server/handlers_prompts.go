package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonathan/interview-evaluator/internal/prompts"
)

// PromptVersionRequest represents the body for creating a prompt version.
type PromptVersionRequest struct {
	Content  string `json:"content" validate:"required"`
	Notes    string `json:"notes"`
	Activate bool   `json:"activate"`
}

// PromptVersionResponse is one version's metadata, with content when a
// single version was requested.
type PromptVersionResponse struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Notes     string    `json:"notes,omitempty"`
	Active    bool      `json:"active"`
	Content   string    `json:"content,omitempty"`
}

// PromptVersionListResponse represents GET /prompts/{agent}/versions.
type PromptVersionListResponse struct {
	Agent         string                  `json:"agent"`
	ActiveVersion int                     `json:"active_version"`
	Versions      []PromptVersionResponse `json:"versions"`
}

// promptAgent resolves the {agent} path parameter, writing a 404 when it
// names no known agent.
func (s *Server) promptAgent(w http.ResponseWriter, r *http.Request) (prompts.Agent, bool) {
	agent := prompts.Agent(chi.URLParam(r, "agent"))
	if !agent.Valid() {
		s.errorForStatus(w, &prompts.NotFoundError{Agent: agent})
		return "", false
	}
	return agent, true
}

func (s *Server) promptVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || v < 1 {
		s.errorResponse(w, http.StatusBadRequest, "version must be a positive integer")
		return 0, false
	}
	return v, true
}

// handleListPromptVersions lists all versions for an agent.
func (s *Server) handleListPromptVersions(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.promptAgent(w, r)
	if !ok {
		return
	}
	metas, active, err := s.service.promptStore.ListVersions(agent)
	if err != nil {
		s.errorForStatus(w, err)
		return
	}
	resp := PromptVersionListResponse{
		Agent:         string(agent),
		ActiveVersion: active,
		Versions:      make([]PromptVersionResponse, 0, len(metas)),
	}
	for _, m := range metas {
		resp.Versions = append(resp.Versions, PromptVersionResponse{
			Version:   m.Version,
			CreatedAt: m.CreatedAt,
			Notes:     m.Notes,
			Active:    m.Version == active,
		})
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleGetPromptVersion returns one version with its content.
func (s *Server) handleGetPromptVersion(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.promptAgent(w, r)
	if !ok {
		return
	}
	v, ok := s.promptVersion(w, r)
	if !ok {
		return
	}
	version, err := s.service.promptStore.GetVersion(agent, v)
	if err != nil {
		s.errorForStatus(w, err)
		return
	}
	_, active, err := s.service.promptStore.ListVersions(agent)
	if err != nil {
		s.errorForStatus(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, PromptVersionResponse{
		Version:   version.Version,
		CreatedAt: version.CreatedAt,
		Notes:     version.Notes,
		Active:    version.Version == active,
		Content:   version.Content,
	})
}

// handleCreatePromptVersion saves a new version, optionally activating it.
func (s *Server) handleCreatePromptVersion(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.promptAgent(w, r)
	if !ok {
		return
	}
	var req PromptVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return
	}

	v, err := s.service.promptStore.CreateVersion(agent, req.Content, req.Notes, req.Activate)
	if err != nil {
		s.errorForStatus(w, err)
		return
	}
	created, err := s.service.promptStore.GetVersion(agent, v)
	if err != nil {
		s.errorForStatus(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, PromptVersionResponse{
		Version:   created.Version,
		CreatedAt: created.CreatedAt,
		Notes:     created.Notes,
		Active:    req.Activate,
	})
}

// handleActivatePromptVersion switches the active version for an agent.
func (s *Server) handleActivatePromptVersion(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.promptAgent(w, r)
	if !ok {
		return
	}
	v, ok := s.promptVersion(w, r)
	if !ok {
		return
	}
	if err := s.service.promptStore.Activate(agent, v); err != nil {
		s.errorForStatus(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"agent":          string(agent),
		"active_version": v,
	})
}

// handleDeletePromptVersion removes a non-active version.
func (s *Server) handleDeletePromptVersion(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.promptAgent(w, r)
	if !ok {
		return
	}
	v, ok := s.promptVersion(w, r)
	if !ok {
		return
	}
	if err := s.service.promptStore.Delete(agent, v); err != nil {
		s.errorForStatus(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
