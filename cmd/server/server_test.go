package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcoder/pkg/backend"
	"medcoder/pkg/database"
	"medcoder/pkg/events"
	"medcoder/pkg/logger"
	"medcoder/pkg/orchestrator"
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/types"
)

// noopAgent completes immediately so submission tests can watch a case
// run to completion without any model traffic.
type noopAgent struct{}

func (noopAgent) Name() string               { return "noop-agent" }
func (noopAgent) Description() string        { return "test stage" }
func (noopAgent) RequiredServices() []string { return nil }
func (noopAgent) Execute(context.Context, *agents.AgentContext) (*types.AgentResult, error) {
	return &types.AgentResult{Success: true, Data: &types.AgentData{}}, nil
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	log := logger.CreateTestLogger()
	dispatcher := events.NewDispatcher()

	store, err := database.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := backend.NewManager(
		backend.Endpoint{URL: "https://primary.openai.azure.com", APIKey: "test-key"},
		nil, log, dispatcher)
	require.NoError(t, err)

	orch := orchestrator.New(log, dispatcher)
	require.NoError(t, orch.Register("noop", noopAgent{}, nil, 1, 5000, false))

	return &API{
		config:     Config{CORSOrigins: []string{"*"}},
		orch:       orch,
		services:   agents.Services{Backend: mgr},
		store:      store,
		dispatcher: dispatcher,
		logger:     log,
		running:    make(map[string]context.CancelFunc),
	}
}

func TestSubmitCaseRunsToCompletion(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()

	body := `{
		"patient_id": "pt-1",
		"date_of_service": "2025-06-15",
		"demographics": {"state": "CA"},
		"notes": {"primary": "op note text"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/cases", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	caseID := resp["case_id"]
	require.NotEmpty(t, caseID)
	assert.Equal(t, string(types.CaseProcessing), resp["status"])

	// The background run persists the final state.
	require.Eventually(t, func() bool {
		stored, err := api.store.GetCase(context.Background(), caseID)
		return err == nil && stored.Status == types.CaseCompleted
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := api.store.GetCase(context.Background(), caseID)
	require.NoError(t, err)
	require.NotNil(t, stored.FinalState)
	assert.Contains(t, stored.FinalState.CompletedSteps, "noop")
}

func TestSubmitCaseRequiresPrimaryNote(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/cases",
		strings.NewReader(`{"patient_id": "pt-1", "notes": {}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "notes.primary is required")
}

func TestSubmitCaseRejectsBadDate(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/cases",
		strings.NewReader(`{"date_of_service": "15/06/2025", "notes": {"primary": "note"}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "date_of_service")
}

func TestGetCaseNotFound(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/cases/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportsBackends(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotNil(t, resp["backends"])
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/cases", nil)
	req.Header.Set("Origin", "https://example.test")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHistoryRoutes(t *testing.T) {
	api := newTestAPI(t)
	router := api.routes()
	ctx := context.Background()

	require.NoError(t, api.store.SaveCase(ctx, database.CaseRecord{
		CaseID:      "case-1",
		Status:      types.CaseCompleted,
		SubmittedAt: time.Now().UTC(),
	}))
	require.NoError(t, api.store.AppendEvent(ctx, database.CaseEvent{
		CaseID:    "case-1",
		EventType: string(events.StageStart),
		Timestamp: time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history/cases", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Count int                   `json:"count"`
		Cases []database.CaseRecord `json:"cases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Count)

	req = httptest.NewRequest(http.MethodGet, "/api/history/cases/case-1/events", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(events.StageStart))

	req = httptest.NewRequest(http.MethodGet, "/api/history/cases/nope", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/history/cases?limit=zero", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildInitialStateDefaults(t *testing.T) {
	state, err := buildInitialState(submitRequest{
		Notes: types.CaseNotes{Primary: "note"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, state.CaseMeta.CaseID)
	assert.Equal(t, types.ClaimPrimary, state.CaseMeta.ClaimKind)
	assert.WithinDuration(t, time.Now().UTC(), state.CaseMeta.DateOfService, time.Minute)

	state, err = buildInitialState(submitRequest{
		CaseID:        "case-7",
		DateOfService: "2025-06-15",
		ClaimKind:     string(types.ClaimSecondary),
		Notes:         types.CaseNotes{Primary: "note"},
	})
	require.NoError(t, err)
	assert.Equal(t, "case-7", state.CaseMeta.CaseID)
	assert.Equal(t, types.ClaimSecondary, state.CaseMeta.ClaimKind)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), state.CaseMeta.DateOfService)
}
