package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker reports whether a dependency the process needs is reachable.
type Checker func(ctx context.Context) error

// Server serves /healthz and /readyz.
type Server struct {
	checks map[string]Checker
}

// NewServer builds an empty health Server. Register readiness dependencies
// with AddCheck before mounting Handler.
func NewServer() *Server {
	return &Server{checks: make(map[string]Checker)}
}

// AddCheck registers a named readiness dependency. name appears verbatim in
// the /readyz response body.
func (s *Server) AddCheck(name string, check Checker) {
	s.checks[name] = check
}

// Handler returns an http.Handler serving /healthz and /readyz, suitable
// for mounting on an existing router or its own listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)
	return mux
}

type livenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{Status: "healthy", Timestamp: time.Now()})
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// handleReadiness runs every registered Checker and reports 503 if any
// fails, so traffic is held back until dependencies are reachable.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	statusText := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		statusText = "not ready"
	}

	writeJSON(w, status, readinessResponse{Status: statusText, Timestamp: time.Now(), Checks: checks})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
