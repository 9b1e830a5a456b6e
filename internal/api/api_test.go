package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/store"
	"gateflow/pkg/coordinator"
	"gateflow/pkg/types"
)

type brokenStore struct{ *store.Memory }

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

func newServer(t *testing.T, opts ...coordinator.Option) (*httptest.Server, *coordinator.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := coordinator.New(append([]coordinator.Option{coordinator.WithLogger(logger)}, opts...)...)
	srv := httptest.NewServer(NewRouter(engine, logger))
	t.Cleanup(srv.Close)
	return srv, engine
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func post(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])

	broken, _ := newServer(t, coordinator.WithStore(brokenStore{store.NewMemory()}))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, broken.URL+"/healthz", &body))
	assert.Equal(t, "connection refused", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPhases(t *testing.T) {
	srv, _ := newServer(t)
	var phases []PhaseInfo
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/phases", &phases))
	require.Len(t, phases, 8)

	assert.Equal(t, types.PhaseIdle, phases[0].Phase)
	assert.Equal(t, types.PhaseTestGeneration, phases[3].Prerequisite)
	review := phases[4]
	assert.Equal(t, types.PhaseReview, review.Phase)
	assert.Equal(t, []types.AgentRole{types.RoleQualityReviewer}, review.Roles)
	assert.Contains(t, review.Conditional, "security-reviewer")
	assert.Contains(t, review.Conditional, "ux-tester")
}

func TestInstanceLifecycle(t *testing.T) {
	srv, engine := newServer(t)
	ctx := context.Background()

	var created coordinator.Status
	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/api/v1/instances", &created))
	assert.Equal(t, types.PhaseIdle, created.Phase)

	_, err := engine.Run(ctx, created.ID, types.PhasePlanning, nil, func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	var list map[string][]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/instances", &list))
	assert.Equal(t, []string{created.ID}, list["instances"])

	var status coordinator.Status
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/instances/"+created.ID, &status))
	assert.Equal(t, types.PhasePlanning, status.Phase)
	assert.Equal(t, []types.Phase{types.PhaseTestGeneration}, status.Next)

	var snap store.Record
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/instances/"+created.ID+"/snapshot", &snap))
	require.Len(t, snap.PhaseHistory, 1)
	assert.Equal(t, store.Version, snap.Version)

	var reset coordinator.Status
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/api/v1/instances/"+created.ID+"/reset", &reset))
	assert.Equal(t, types.PhaseIdle, reset.Phase)

	var history []store.Record
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/instances/"+created.ID+"/history", &history))
	require.Len(t, history, 1)
	assert.Equal(t, types.PhasePlanning, history[0].CurrentPhase)
}

func TestUnknownInstance(t *testing.T) {
	srv, _ := newServer(t)

	var body errorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/v1/instances/nope", &body))
	assert.Contains(t, body.Error, "nope")

	assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/api/v1/instances/nope/reset", &body))
}
