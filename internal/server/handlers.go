package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jonathan/interview-evaluator/internal/jobs"
	"github.com/jonathan/interview-evaluator/internal/pipeline"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CandidateRequest carries candidate context for an evaluation.
type CandidateRequest struct {
	Name              string `json:"name" validate:"required"`
	CurrentLevel      string `json:"current_level"`
	TargetLevel       string `json:"target_level"`
	YearsExperience   int    `json:"years_experience" validate:"gte=0,lte=50"`
	LevelExpectations string `json:"level_expectations"`
}

// EvaluationRequest represents the request body for POST /evaluations.
type EvaluationRequest struct {
	Rubric     string           `json:"rubric" validate:"required,min=50"`
	Transcript string           `json:"transcript" validate:"required,min=100"`
	Candidate  CandidateRequest `json:"candidate_info" validate:"required"`
}

// EvaluationCreatedResponse represents the response for POST /evaluations.
type EvaluationCreatedResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	WSPath     string `json:"websocket_path"`
	StreamPath string `json:"stream_path"`
}

// EvaluationResponse is the stored view of one evaluation job.
type EvaluationResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	Candidate   string          `json:"candidate_name"`
	Result      *pipeline.State `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// EvaluationListResponse represents the response for GET /evaluations.
type EvaluationListResponse struct {
	Evaluations []EvaluationResponse `json:"evaluations"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

func toEvaluationResponse(rec *jobs.Record) EvaluationResponse {
	resp := EvaluationResponse{
		ID:        rec.ID,
		Status:    string(rec.Status),
		Progress:  rec.Progress,
		Candidate: rec.Input.Candidate.Name,
		Result:    rec.Result,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

// handleCreateEvaluation starts a new evaluation run.
func (s *Server) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	var req EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return
	}

	id := s.service.StartEvaluation(jobs.Input{
		Rubric:     req.Rubric,
		Transcript: req.Transcript,
		Candidate: pipeline.CandidateInfo{
			Name:              req.Candidate.Name,
			CurrentLevel:      req.Candidate.CurrentLevel,
			TargetLevel:       req.Candidate.TargetLevel,
			YearsAtLevel:      req.Candidate.YearsExperience,
			LevelExpectations: req.Candidate.LevelExpectations,
		},
	})

	s.jsonResponse(w, http.StatusAccepted, EvaluationCreatedResponse{
		ID:         id,
		Status:     string(jobs.StatusPending),
		WSPath:     "/ws/evaluations/" + id,
		StreamPath: "/evaluations/" + id + "/stream",
	})
}

// handleGetEvaluation returns one evaluation by ID.
func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := s.service.jobs.Get(id)
	if rec == nil {
		s.errorForStatus(w, &ErrJobNotFound{ID: id})
		return
	}
	s.jsonResponse(w, http.StatusOK, toEvaluationResponse(rec))
}

// handleListEvaluations returns evaluations newest-first with pagination.
func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 0 || offset < 0 {
		s.errorResponse(w, http.StatusBadRequest, "limit and offset must be non-negative")
		return
	}

	recs, total := s.service.jobs.List(limit, offset)
	resp := EvaluationListResponse{
		Evaluations: make([]EvaluationResponse, 0, len(recs)),
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	}
	for _, rec := range recs {
		resp.Evaluations = append(resp.Evaluations, toEvaluationResponse(rec))
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleDeleteEvaluation removes an evaluation record.
func (s *Server) handleDeleteEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.service.jobs.Delete(id) {
		s.errorForStatus(w, &ErrJobNotFound{ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns job counts by status.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.service.jobs.Stats())
}

// errorForStatus writes an error response using HTTPStatus mapping.
func (s *Server) errorForStatus(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}

// validationResponse translates validator errors into a 400 with the
// offending field named.
func (s *Server) validationResponse(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		s.errorForStatus(w, &ErrValidation{Field: fe.Field(), Message: "failed on " + fe.Tag()})
		return
	}
	s.errorResponse(w, http.StatusBadRequest, err.Error())
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
