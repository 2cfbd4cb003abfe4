package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/security"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *repository.MemoryRepository, string) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	keys := security.NewClusterKeyStore()
	key, err := keys.IssueKey("c1")
	require.NoError(t, err)
	require.NoError(t, repo.CreateCluster(context.Background(), &types.Cluster{ID: "c1"}))
	return NewServer(repo, keys, ":0"), repo, key.Key
}

func doRequest(srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	router := newTestRouter(srv)
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newTestRouter(srv *Server) http.Handler {
	r := mux.NewRouter()
	srv.setupRoutes(r)
	return r
}

func TestHandleNodeStatusRejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/node/n1/status", "", nodeStatusRequest{
		Status: types.NodeStatusAvailable, HeartbeatTimestamp: time.Now(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleNodeStatusRejectsUnknownToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/node/n1/status", "not-a-real-key", nodeStatusRequest{
		Status: types.NodeStatusAvailable, HeartbeatTimestamp: time.Now(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleNodeStatusUpsertsAndReturnsAssignment(t *testing.T) {
	srv, repo, token := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/node/n1/status", token, nodeStatusRequest{
		Status:             types.NodeStatusAvailable,
		HeartbeatTimestamp: time.Now(),
		Resources:          &nodeResources{CPU: types.CPUInfo{Millicores: 4000}, Memory: 8192},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	node, err := repo.GetNode(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "c1", node.ClusterID)
	assert.Equal(t, int64(8192), node.Memory)

	ok, err := repo.AssignJobToNode(context.Background(), "n1", "j1")
	require.NoError(t, err)
	require.True(t, ok)

	rec = doRequest(srv, http.MethodPost, "/node/n1/status", token, nodeStatusRequest{
		Status: types.NodeStatusAvailable, HeartbeatTimestamp: time.Now(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp nodeStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "j1", resp.AssignedJobID)
}

func TestHandleJobDetailsNotFound(t *testing.T) {
	srv, _, token := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/jobs/missing/details", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJobDetailsReturnsRequirements(t *testing.T) {
	srv, repo, token := newTestServer(t)
	require.NoError(t, repo.CreateJob(context.Background(), &types.Job{
		ID: "j1", Definition: "registry/train:latest",
		Requirements: types.ResourceRequirements{CPUMillicores: 1000, MemoryMB: 1024},
		Status:       types.JobStatusStarting,
		CreatedAt:    time.Now(),
	}))

	rec := doRequest(srv, http.MethodGet, "/jobs/j1/details", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobDetailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "registry/train:latest", resp.Image)
	assert.Equal(t, int64(1000), resp.Requirements.CPUMillicores)
}

func TestHandleJobStatusTerminalReleasesNode(t *testing.T) {
	srv, repo, token := newTestServer(t)
	ctx := context.Background()
	_, err := repo.UpsertNodeHeartbeat(ctx, "n1", repository.HeartbeatUpdate{
		ClusterID: "c1", Status: types.NodeStatusAvailable, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	ok, err := repo.AssignJobToNode(ctx, "n1", "j1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.CreateJob(ctx, &types.Job{ID: "j1", NodeID: "n1", Status: types.JobStatusRunning, CreatedAt: time.Now()}))

	rec := doRequest(srv, http.MethodPost, "/jobs/j1/status", token, jobStatusRequest{
		Status: types.JobStatusSucceeded,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	node, err := repo.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, node.AssignedJobID)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)

	job, err := repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, job.Status)
}
