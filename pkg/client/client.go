// Package client is the agent-side HTTP client for the control plane's
// three endpoints. Every call carries its own short timeout, well under the
// heartbeat interval, so a slow control plane never stalls the agent's
// serial job loop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lilac-sh/lilac/pkg/types"
)

// DefaultTimeout bounds every individual request this client makes.
const DefaultTimeout = 5 * time.Second

// ErrUnauthorized is returned when the control plane rejects the cluster
// API key (HTTP 401). The agent must stop retrying until reconfigured.
var ErrUnauthorized = fmt.Errorf("client: cluster api key rejected")

// ErrNotFound is returned on HTTP 404 — an unknown node or job ID.
var ErrNotFound = fmt.Errorf("client: entity not found")

// ControlPlaneClient talks to pkg/controlplane over HTTPS with a bearer
// token scoped to one cluster.
type ControlPlaneClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New returns a client pointed at baseURL (e.g. "https://control.example.com")
// authenticating with apiKey.
func New(baseURL, apiKey string) *ControlPlaneClient {
	return &ControlPlaneClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// NodeStatusReport is the heartbeat/registration payload sent by the agent.
type NodeStatusReport struct {
	Status             types.NodeStatus
	CPU                types.CPUInfo
	GPU                *types.GPUInfo
	MemoryMB           int64
	RunningJobID       string
	HeartbeatTimestamp time.Time
}

type nodeStatusWireRequest struct {
	Status             types.NodeStatus `json:"status"`
	Resources          *wireResources   `json:"resources,omitempty"`
	RunningJobID       string           `json:"running_job_id,omitempty"`
	HeartbeatTimestamp time.Time        `json:"heartbeat_timestamp"`
}

type wireResources struct {
	CPU    types.CPUInfo  `json:"cpu"`
	GPU    *types.GPUInfo `json:"gpu,omitempty"`
	Memory int64          `json:"memory_mb"`
}

type nodeStatusWireResponse struct {
	AssignedJobID string `json:"assigned_job_id,omitempty"`
}

// ReportNodeStatus posts a heartbeat and returns the job ID the control
// plane currently has assigned to this node, if any.
func (c *ControlPlaneClient) ReportNodeStatus(ctx context.Context, nodeID string, report NodeStatusReport) (assignedJobID string, err error) {
	req := nodeStatusWireRequest{
		Status: report.Status,
		Resources: &wireResources{
			CPU: report.CPU, GPU: report.GPU, Memory: report.MemoryMB,
		},
		RunningJobID:       report.RunningJobID,
		HeartbeatTimestamp: report.HeartbeatTimestamp,
	}

	var resp nodeStatusWireResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/node/%s/status", nodeID), req, &resp); err != nil {
		return "", err
	}
	return resp.AssignedJobID, nil
}

// JobDetails is the job detail response: image reference and resource
// requirements, per spec §6.
type JobDetails struct {
	ID           string
	Name         string
	Image        string
	Status       types.JobStatus
	Requirements types.ResourceRequirements
	Labels       map[string]string
}

type jobDetailsWireResponse struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Image        string                     `json:"image"`
	Status       types.JobStatus            `json:"status"`
	Requirements types.ResourceRequirements `json:"requirements"`
	Labels       map[string]string          `json:"labels,omitempty"`
}

// FetchJobDetails fetches the full job record after assignment.
func (c *ControlPlaneClient) FetchJobDetails(ctx context.Context, jobID string) (*JobDetails, error) {
	var resp jobDetailsWireResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/jobs/%s/details", jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &JobDetails{
		ID: resp.ID, Name: resp.Name, Image: resp.Image,
		Status: resp.Status, Requirements: resp.Requirements, Labels: resp.Labels,
	}, nil
}

type jobStatusWireRequest struct {
	Status   types.JobStatus `json:"status"`
	ExitCode int             `json:"exit_code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ReportJobStatus sends a terminal (or running) status update for jobID.
func (c *ControlPlaneClient) ReportJobStatus(ctx context.Context, jobID string, status types.JobStatus, exitCode int, message string) error {
	req := jobStatusWireRequest{Status: status, ExitCode: exitCode, Message: message}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/jobs/%s/status", jobID), req, nil)
}

// doJSON issues an HTTP request with an optional JSON body and decodes an
// optional JSON response, translating status codes to the sentinel errors
// the agent's retry logic distinguishes (spec §7).
func (c *ControlPlaneClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	reqBody := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
}
