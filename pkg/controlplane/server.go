// Package controlplane implements the HTTP boundary agents speak to: node
// heartbeats, job detail lookups, and terminal status reports. It is the
// only component that terminates inbound connections from untrusted agents,
// so every route runs behind cluster bearer-token authentication.
package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/metrics"
	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/security"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/rs/zerolog"
)

// Server exposes the agent-facing HTTP API described in spec §6.
type Server struct {
	repo   repository.Repository
	keys   *security.ClusterKeyStore
	addr   string
	logger zerolog.Logger
	http   *http.Server
}

// NewServer builds a Server bound to addr (e.g. ":8443"). keys authenticates
// every request; repo is the sole source and sink of durable state.
func NewServer(repo repository.Repository, keys *security.ClusterKeyStore, addr string) *Server {
	return &Server{
		repo:   repo,
		keys:   keys,
		addr:   addr,
		logger: log.WithField("component", "controlplane"),
	}
}

// Start runs the HTTP listener until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	router := mux.NewRouter()
	s.setupRoutes(router)

	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("control plane listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes(router *mux.Router) {
	router.Handle("/node/{node_id}/status", s.instrument(s.authMiddleware(http.HandlerFunc(s.handleNodeStatus)))).Methods(http.MethodPost)
	router.Handle("/jobs/{job_id}/details", s.instrument(s.authMiddleware(http.HandlerFunc(s.handleJobDetails)))).Methods(http.MethodGet)
	router.Handle("/jobs/{job_id}/status", s.instrument(s.authMiddleware(http.HandlerFunc(s.handleJobStatus)))).Methods(http.MethodPost)
}

// statusRecorder captures the status code a handler wrote so instrument can
// label the request after the fact; http.ResponseWriter has no getter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request counts and latency by route and status, per
// spec §10's "exported as Prometheus metrics on an internal /metrics port."
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if tpl, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = tpl
		}

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	})
}

type clusterContextKey struct{}

// authMiddleware validates the bearer token and stashes the owning cluster
// ID in the request context; handlers trust it without re-validating.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		clusterID, ok := s.keys.Validate(token)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unknown or revoked cluster api key")
			return
		}

		ctx := context.WithValue(r.Context(), clusterContextKey{}, clusterID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

func clusterIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clusterContextKey{}).(string)
	return v
}

// nodeStatusRequest is the heartbeat/registration payload per spec §6.
type nodeStatusRequest struct {
	Status             types.NodeStatus `json:"status"`
	Resources          *nodeResources   `json:"resources,omitempty"`
	RunningJobID       string           `json:"running_job_id,omitempty"`
	HeartbeatTimestamp time.Time        `json:"heartbeat_timestamp"`
}

type nodeResources struct {
	CPU    types.CPUInfo  `json:"cpu"`
	GPU    *types.GPUInfo `json:"gpu,omitempty"`
	Memory int64          `json:"memory_mb"`
}

type nodeStatusResponse struct {
	AssignedJobID string `json:"assigned_job_id,omitempty"`
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["node_id"]
	nodeLog := log.WithField("node_id", nodeID)

	var req nodeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	update := repository.HeartbeatUpdate{
		ClusterID:     clusterIDFromContext(r.Context()),
		Status:        req.Status,
		ReportedJobID: req.RunningJobID,
		Timestamp:     req.HeartbeatTimestamp,
	}
	if req.Resources != nil {
		update.CPU = req.Resources.CPU
		update.GPU = req.Resources.GPU
		update.Memory = req.Resources.Memory
	}

	node, err := s.repo.UpsertNodeHeartbeat(r.Context(), nodeID, update)
	if err != nil {
		nodeLog.Error().Err(err).Msg("failed to record heartbeat")
		writeJSONError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}

	writeJSON(w, http.StatusOK, nodeStatusResponse{AssignedJobID: node.AssignedJobID})
}

// jobDetailsResponse is the full job detail fetch per spec §6 ("includes
// image reference and resource requirements").
type jobDetailsResponse struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Image        string                     `json:"image"`
	Status       types.JobStatus            `json:"status"`
	Requirements types.ResourceRequirements `json:"requirements"`
	Labels       map[string]string          `json:"labels,omitempty"`
}

func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	job, err := s.repo.GetJob(r.Context(), jobID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, jobDetailsResponse{
		ID:           job.ID,
		Name:         job.Name,
		Image:        job.Definition,
		Status:       job.Status,
		Requirements: job.Requirements,
		Labels:       job.Labels,
	})
}

// jobStatusRequest is the terminal status report payload per spec §6.
type jobStatusRequest struct {
	Status   types.JobStatus `json:"status"`
	ExitCode int             `json:"exit_code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

var terminalStatuses = map[types.JobStatus]bool{
	types.JobStatusSucceeded: true,
	types.JobStatusFailed:    true,
	types.JobStatusCancelled: true,
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	jobLog := log.WithField("job_id", jobID)

	var req jobStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	job, err := s.repo.GetJob(r.Context(), jobID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}

	if err := s.repo.UpdateJobStatus(r.Context(), jobID, req.Status, req.ExitCode, req.Message); err != nil {
		jobLog.Error().Err(err).Msg("failed to record job status")
		writeJSONError(w, http.StatusInternalServerError, "failed to record job status")
		return
	}

	// A terminal report releases the node: Node.AssignedJobID only covers
	// Starting/Running, per the invariant in spec §8 (I1).
	if terminalStatuses[req.Status] && job.NodeID != "" {
		if _, err := s.repo.ClearNodeAssignment(r.Context(), job.NodeID, jobID); err != nil {
			jobLog.Error().Err(err).Str("node_id", job.NodeID).Msg("failed to clear node assignment after terminal status")
		}
	}

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
