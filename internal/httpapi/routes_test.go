package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kernel-route/routekernel/internal/autoupdate"
	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/feedback"
	"github.com/kernel-route/routekernel/internal/health"
	"github.com/kernel-route/routekernel/internal/kernelrouter"
	"github.com/kernel-route/routekernel/internal/metrics"
	"github.com/kernel-route/routekernel/internal/patterns"
	"github.com/kernel-route/routekernel/internal/telemetry"
)

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()

	bstore, err := baseline.NewFileStore(filepath.Join(t.TempDir(), "baselines"), nil)
	require.NoError(t, err)

	tstore, err := telemetry.NewSQLiteStore(context.Background(), "file:"+filepath.Join(t.TempDir(), "telemetry.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tstore.Close() })

	bus := events.NewBus()
	router := kernelrouter.New(bstore, tstore, bus)
	ingest := feedback.New(tstore)
	gate := autoupdate.New(bstore, tstore, patterns.DefaultConfig())

	return Dependencies{
		Router:    router,
		Baselines: bstore,
		Telemetry: tstore,
		Feedback:  ingest,
		Gate:      gate,
		Metrics:   metrics.New(),
		Health:    health.NewTracker(health.DefaultConfig()),
		Bus:       bus,
	}
}

func TestHealthzHandlerOK(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	HealthzHandler(d)(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouteHandlerRequiresQuery(t *testing.T) {
	d := newTestDeps(t)
	body, _ := json.Marshal(routeRequest{})
	req := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(body))
	w := httptest.NewRecorder()
	RouteHandler(d)(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouteHandlerReturnsDecision(t *testing.T) {
	d := newTestDeps(t)
	body, _ := json.Marshal(routeRequest{Query: "refactor this function to use generics"})
	req := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(body))
	w := httptest.NewRecorder()
	RouteHandler(d)(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var decision telemetry.Decision
	require.NoError(t, json.NewDecoder(w.Body).Decode(&decision))
	require.NotEmpty(t, decision.ID)
	require.NotEmpty(t, decision.ChosenTier)
}

func TestFeedbackHandlerRecordsSignal(t *testing.T) {
	d := newTestDeps(t)

	routeBody, _ := json.Marshal(routeRequest{Query: "what is the capital of france"})
	routeReq := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(routeBody))
	routeW := httptest.NewRecorder()
	RouteHandler(d)(routeW, routeReq)
	require.Equal(t, http.StatusOK, routeW.Code)

	var decision telemetry.Decision
	require.NoError(t, json.NewDecoder(routeW.Body).Decode(&decision))

	fbBody, _ := json.Marshal(feedbackRequest{DecisionID: decision.ID, Signal: "success"})
	fbReq := httptest.NewRequest(http.MethodPost, "/v1/feedback", bytes.NewReader(fbBody))
	fbW := httptest.NewRecorder()
	FeedbackHandler(d)(fbW, fbReq)
	require.Equal(t, http.StatusOK, fbW.Code)
}

func TestStatsHandlerDefaultsWindow(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	StatsHandler(d)(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats telemetry.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	require.Equal(t, "24h", stats.Window.Name)
}

func TestBaselinesAndLineageHandlers(t *testing.T) {
	d := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/baselines", nil)
	w := httptest.NewRecorder()
	BaselinesHandler(d)(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/v1/lineage", nil)
	w2 := httptest.NewRecorder()
	LineageHandler(d)(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestProposalsHandler(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/proposals", nil)
	w := httptest.NewRecorder()
	ProposalsHandler(d)(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMountRoutesRegistersHealthz(t *testing.T) {
	d := newTestDeps(t)
	r := chi.NewRouter()
	MountRoutes(r, d)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSSEHandlerSendsConnectedEvent(t *testing.T) {
	bus := events.NewBus()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	SSEHandler(bus)(w, req)
	require.Contains(t, w.Body.String(), "event: connected")
}
