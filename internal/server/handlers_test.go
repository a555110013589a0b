package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/interview-evaluator/internal/jobs"
	"github.com/jonathan/interview-evaluator/internal/llm"
	"github.com/jonathan/interview-evaluator/internal/pipeline"
	"github.com/jonathan/interview-evaluator/internal/prompts"
	"github.com/jonathan/interview-evaluator/internal/stream"
)

// scriptedGateway returns one canned result per call and can be told to
// fail every call.
type scriptedGateway struct {
	fail bool
}

func (g *scriptedGateway) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	if g.fail {
		return nil, fmt.Errorf("model call failed after 3 attempts: backend down")
	}
	return &llm.Result{
		Text:         "generated for " + req.Model,
		InputTokens:  10,
		OutputTokens: 20,
	}, nil
}

func testServer(t *testing.T, gw pipeline.Generator) *Server {
	t.Helper()

	promptStore, err := prompts.NewStore(t.TempDir())
	require.NoError(t, err)

	models := map[string]pipeline.ModelSettings{
		"primary_agent":   {Name: "gemini-2.5-pro", MaxTokens: 8192},
		"challenge_agent": {Name: "gemini-2.5-pro", MaxTokens: 4096},
		"response_agent":  {Name: "gemini-2.5-pro", MaxTokens: 8192},
		"decision_agent":  {Name: "gemini-2.5-pro", MaxTokens: 4096},
	}
	runner := pipeline.NewRunner(gw, promptStore, models, llm.PriceTable{InputCostPerMTok: 3, OutputCostPerMTok: 15}, nil)

	jobStore := jobs.NewStore(time.Hour, nil)
	broadcaster := stream.NewBroadcaster(nil)
	svc := NewService(context.Background(), runner, jobStore, promptStore, broadcaster, nil)
	return New(Config{Port: 0, ShutdownTimeout: time.Second, APIKeySet: true}, svc, nil)
}

func validEvaluationBody() map[string]any {
	return map[string]any{
		"rubric":     strings.Repeat("Rubric criteria. ", 5),
		"transcript": strings.Repeat("Interviewer asks, candidate answers. ", 5),
		"candidate_info": map[string]any{
			"name":             "Sarah Chen",
			"current_level":    "L5",
			"target_level":     "L6",
			"years_experience": 3,
		},
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func waitForStatus(t *testing.T, h http.Handler, id, want string) EvaluationResponse {
	t.Helper()
	var resp EvaluationResponse
	require.Eventually(t, func() bool {
		rr := doRequest(t, h, http.MethodGet, "/evaluations/"+id)
		if rr.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return resp
}

func TestCreateEvaluation_RunsToCompletion(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	h := srv.Handler()

	rr := postJSON(t, h, "/evaluations", validEvaluationBody())
	require.Equal(t, http.StatusAccepted, rr.Code)

	var created EvaluationCreatedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "/ws/evaluations/"+created.ID, created.WSPath)
	assert.Equal(t, "/evaluations/"+created.ID+"/stream", created.StreamPath)

	resp := waitForStatus(t, h, created.ID, "completed")
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "Sarah Chen", resp.Candidate)
	require.NotNil(t, resp.Result)
	assert.NotEmpty(t, resp.Result.PrimaryEvaluation)
	assert.NotEmpty(t, resp.Result.Decision)
	assert.Equal(t, 4*(10+20), resp.Result.Metadata.Tokens.Total)
	assert.NotNil(t, resp.CompletedAt)
}

func TestCreateEvaluation_FailureSurfacesError(t *testing.T) {
	srv := testServer(t, &scriptedGateway{fail: true})
	h := srv.Handler()

	rr := postJSON(t, h, "/evaluations", validEvaluationBody())
	require.Equal(t, http.StatusAccepted, rr.Code)
	var created EvaluationCreatedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	resp := waitForStatus(t, h, created.ID, "failed")
	assert.Contains(t, resp.Error, "stage primary_evaluation")
	assert.Nil(t, resp.Result)
}

func TestCreateEvaluation_Validation(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	h := srv.Handler()

	cases := map[string]func(body map[string]any){
		"short rubric":     func(b map[string]any) { b["rubric"] = "too short" },
		"short transcript": func(b map[string]any) { b["transcript"] = "too short" },
		"missing name": func(b map[string]any) {
			b["candidate_info"].(map[string]any)["name"] = ""
		},
		"years out of range": func(b map[string]any) {
			b["candidate_info"].(map[string]any)["years_experience"] = 51
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			body := validEvaluationBody()
			mutate(body)
			rr := postJSON(t, h, "/evaluations", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), "validation error")
		})
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/evaluations", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListEvaluations_Pagination(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		rr := postJSON(t, h, "/evaluations", validEvaluationBody())
		require.Equal(t, http.StatusAccepted, rr.Code)
		var created EvaluationCreatedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
		waitForStatus(t, h, created.ID, "completed")
	}

	rr := doRequest(t, h, http.MethodGet, "/evaluations?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	var list EvaluationListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Evaluations, 2)

	rr = doRequest(t, h, http.MethodGet, "/evaluations?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetEvaluation_NotFound(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	rr := doRequest(t, srv.Handler(), http.MethodGet, "/evaluations/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteEvaluation(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	h := srv.Handler()

	rr := postJSON(t, h, "/evaluations", validEvaluationBody())
	var created EvaluationCreatedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	waitForStatus(t, h, created.ID, "completed")

	rr = doRequest(t, h, http.MethodDelete, "/evaluations/"+created.ID)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = doRequest(t, h, http.MethodDelete, "/evaluations/"+created.ID)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStats(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	h := srv.Handler()

	rr := postJSON(t, h, "/evaluations", validEvaluationBody())
	var created EvaluationCreatedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	waitForStatus(t, h, created.ID, "completed")

	rr = doRequest(t, h, http.MethodGet, "/evaluations/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats jobs.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Completed)
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	rr := doRequest(t, srv.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["api_key_set"])
	assert.Equal(t, true, body["prompts_loaded"])
}

func TestPromptVersionLifecycle(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	h := srv.Handler()

	// Seeded store starts with version 1 active.
	rr := doRequest(t, h, http.MethodGet, "/prompts/primary_agent/versions")
	require.Equal(t, http.StatusOK, rr.Code)
	var list PromptVersionListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 1, list.ActiveVersion)
	require.Len(t, list.Versions, 1)

	// Create a new version without activating it.
	rr = postJSON(t, h, "/prompts/primary_agent/versions", map[string]any{
		"content": "You are a staff-level evaluator.",
		"notes":   "tightened tone",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created PromptVersionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, 2, created.Version)
	assert.False(t, created.Active)

	// Activate it.
	req := httptest.NewRequest(http.MethodPost, "/prompts/primary_agent/versions/2/activate", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The active version cannot be deleted.
	rr = doRequest(t, h, http.MethodDelete, "/prompts/primary_agent/versions/2")
	assert.Equal(t, http.StatusConflict, rr.Code)

	// The old version can.
	rr = doRequest(t, h, http.MethodDelete, "/prompts/primary_agent/versions/1")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// Fetch content of the active version.
	rr = doRequest(t, h, http.MethodGet, "/prompts/primary_agent/versions/2")
	require.Equal(t, http.StatusOK, rr.Code)
	var got PromptVersionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.True(t, got.Active)
	assert.Equal(t, "You are a staff-level evaluator.", got.Content)
}

func TestPromptVersions_UnknownAgent(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	rr := doRequest(t, srv.Handler(), http.MethodGet, "/prompts/mystery_agent/versions")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPromptVersions_BadVersionParam(t *testing.T) {
	srv := testServer(t, &scriptedGateway{})
	rr := doRequest(t, srv.Handler(), http.MethodDelete, "/prompts/primary_agent/versions/zero")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
