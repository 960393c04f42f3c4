package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gse/internal/cognitive"
	"gse/internal/features"
	"gse/internal/health"
	"gse/internal/keystroke"
	"gse/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *cognitive.Engine, *metrics.Registry) {
	t.Helper()
	e := cognitive.New()
	reg := metrics.NewRegistry("gse")
	checker := health.NewChecker()
	checker.Register(&health.Component{Name: "engine", Critical: true, Check: health.EngineCheck(e.Snapshot)})
	checker.SetReady(true)

	s := New(Options{
		Listen:    "127.0.0.1:0",
		Engine:    e,
		Composing: func() bool { return true },
		Session:   func() string { return "8c1f4b1e-0f55-4d4e-9a59-3f0d1f6b9a10" },
		Metrics:   reg,
		Health:    checker,
	})
	return s, e, reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStateEndpoint(t *testing.T) {
	s, e, _ := newTestServer(t)

	e.Update(features.Vector{FlightTimeMedian: 120, BurstLength: 8, Key: keystroke.KeyCode('A')})

	rec := get(t, s.Handler(), "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	snap := e.Snapshot()
	assert.Equal(t, snap.State, resp.State)
	assert.InDelta(t, snap.Belief[cognitive.Flow], resp.Probabilities["flow"], 1e-12)
	assert.InDelta(t, 1.0, resp.Probabilities["flow"]+resp.Probabilities["incubation"]+resp.Probabilities["stuck"], 1e-9)
	assert.Equal(t, uint64(1), resp.Stats.Updates)
	assert.True(t, resp.Composing)
	assert.NotEmpty(t, resp.Session)
}

func TestStateRejectsOtherMethods(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/state", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, reg := newTestServer(t)
	metrics.NewEngineMetrics(reg).Updates.Add(7)

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gse_updates_total 7")
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusHealthy, resp.Status)
}

func TestOptionalRoutesAbsent(t *testing.T) {
	s := New(Options{Engine: cognitive.New()})

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/healthz").Code)
}

func TestCompressedResponse(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestStartAndShutdown(t *testing.T) {
	s, _, _ := newTestServer(t)
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/state")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"probabilities"`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestShutdownBeforeStart(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, "", s.Addr())
}
