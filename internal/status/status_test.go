package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bofitdev/bofit/internal/controller"
)

func newTestServer(t *testing.T) (*Tracker, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	tracker := NewTracker(reg, nil)
	srv := httptest.NewServer(tracker.Router(reg))
	t.Cleanup(srv.Close)
	return tracker, srv
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	_, srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, "ok", body["status"])
}

func TestStatusBeforeFirstIteration(t *testing.T) {
	_, srv := newTestServer(t)
	body := getJSON(t, srv.URL+"/status")
	assert.Equal(t, "starting", body["state"])
}

func TestStatusReflectsObservedState(t *testing.T) {
	tracker, srv := newTestServer(t)

	tracker.Observe(controller.State{
		RunUUID:   "abc-123",
		Iteration: 4,
		MaxItr:    10,
		Mode:      controller.ModeBayesian,
		Records:   4,
		Best: controller.Best{
			Score:     -0.25,
			Index:     7,
			Iteration: 2,
			Values:    []float64{0.35},
			Valid:     true,
		},
	})

	body := getJSON(t, srv.URL+"/status")
	assert.Equal(t, "abc-123", body["run_uuid"])
	assert.Equal(t, float64(4), body["iteration"])
	assert.Equal(t, controller.ModeBayesian, body["mode"])

	best, ok := body["best"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, -0.25, best["score"])
	assert.Equal(t, float64(7), best["index"])
}

func TestMetricsExposed(t *testing.T) {
	tracker, srv := newTestServer(t)
	tracker.Observe(controller.State{Iteration: 1, Best: controller.Best{Score: -1, Valid: true}})
	tracker.Observe(controller.State{Iteration: 2, Best: controller.Best{Score: -0.5, Valid: true}})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "bofit_iterations_total 2")
	assert.Contains(t, text, "bofit_best_score -0.5")
}
