// Package agent implements the Node Agent: keeps exactly one Node row
// accurate and alive on the control plane, and runs at most one Job at a
// time. A heartbeat loop and the job execution loop run as independent
// goroutines; the heartbeat loop never blocks on job execution.
package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lilac-sh/lilac/pkg/client"
	"github.com/lilac-sh/lilac/pkg/config"
	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/metrics"
	"github.com/lilac-sh/lilac/pkg/resources"
	"github.com/lilac-sh/lilac/pkg/runtime"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is the steady-state heartbeat period per spec
// §4.1 ("default 15 s").
const DefaultHeartbeatInterval = 15 * time.Second

// stopTimeout is how long a graceful stop waits for the container runtime
// before forcing removal, per spec §4.1 ("Graceful stop").
const stopTimeout = 30 * time.Second

// jobContainerName is the reserved container name for one job, matching
// pkg/runtime.JobContainerPrefix.
func jobContainerName(jobID string) string {
	return runtime.JobContainerPrefix + jobID
}

// ControlPlaneClient is the subset of *client.ControlPlaneClient the agent
// depends on, declared here so tests can supply a fake without standing up
// an HTTP server.
type ControlPlaneClient interface {
	ReportNodeStatus(ctx context.Context, nodeID string, report client.NodeStatusReport) (string, error)
	FetchJobDetails(ctx context.Context, jobID string) (*client.JobDetails, error)
	ReportJobStatus(ctx context.Context, jobID string, status types.JobStatus, exitCode int, message string) error
}

// Config configures an Agent.
type Config struct {
	NodeID            string
	ClusterID         string
	Hostname          string
	HeartbeatInterval time.Duration
	Client            ControlPlaneClient
	Runtime           runtime.Runtime
	Registry          *config.RegistryCredentials
}

// Agent is one worker host's control loop.
type Agent struct {
	nodeID            string
	clusterID         string
	hostname          string
	heartbeatInterval time.Duration
	client            ControlPlaneClient
	runtime           runtime.Runtime
	registryAuth      string
	logger            zerolog.Logger

	mu           sync.Mutex
	cpu          types.CPUInfo
	gpu          *types.GPUInfo
	memoryMB     int64
	status       types.NodeStatus
	runningJobID string // job this agent believes it is currently executing

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Agent from cfg. An empty HeartbeatInterval selects
// DefaultHeartbeatInterval.
func New(cfg Config) *Agent {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	a := &Agent{
		nodeID:            cfg.NodeID,
		clusterID:         cfg.ClusterID,
		hostname:          cfg.Hostname,
		heartbeatInterval: interval,
		client:            cfg.Client,
		runtime:           cfg.Runtime,
		status:            types.NodeStatusAvailable,
		logger:            log.WithField("node_id", cfg.NodeID).With().Str("component", "agent").Logger(),
		stopCh:            make(chan struct{}),
	}
	if cfg.Registry != nil {
		a.registryAuth = encodeRegistryAuth(*cfg.Registry)
	}
	return a
}

func encodeRegistryAuth(cred config.RegistryCredentials) string {
	payload, err := json.Marshal(map[string]string{
		"username":      cred.Username,
		"password":      cred.Password,
		"serveraddress": cred.Server,
	})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(payload)
}

// Start runs the startup sequence (introspection, reconciliation, initial
// heartbeat) and then launches the heartbeat loop. It returns once the
// agent is steady-state; the loops themselves run in background goroutines
// until Stop is called.
func (a *Agent) Start(ctx context.Context) error {
	inv, err := resources.Introspect(ctx)
	if err != nil {
		return fmt.Errorf("introspect host resources: %w", err)
	}
	a.mu.Lock()
	a.cpu, a.gpu, a.memoryMB = inv.CPU, inv.GPU, inv.Memory
	a.mu.Unlock()

	a.logger.Info().
		Int64("cpu_millicores", inv.CPU.Millicores).
		Int64("memory_mb", inv.Memory).
		Bool("has_gpu", inv.GPU != nil).
		Msg("resources introspected")

	existing, err := a.runtime.ListJobContainers(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to list existing job containers, continuing without reconciliation")
		existing = nil
	}

	assignedJobID, err := a.sendHeartbeat(ctx, false)
	if err != nil {
		return fmt.Errorf("initial registration heartbeat: %w", err)
	}

	if assignedJobID != "" {
		a.reconcileOrStart(assignedJobID, existing)
	}

	a.wg.Add(1)
	go a.heartbeatLoop()
	return nil
}

// Stop signals the heartbeat loop to exit and, if a job is in flight, stops
// its container with the spec's 30-second graceful-stop timeout.
func (a *Agent) Stop(ctx context.Context) error {
	close(a.stopCh)

	a.mu.Lock()
	jobID := a.runningJobID
	containerID := ""
	if jobID != "" {
		containerID = jobContainerName(jobID)
	}
	a.mu.Unlock()

	if containerID != "" {
		a.logger.Info().Str("container", containerID).Msg("stopping in-flight job container")
		if err := a.runtime.StopContainer(ctx, containerID, stopTimeout); err != nil {
			a.logger.Warn().Err(err).Msg("graceful stop failed, forcing removal")
		}
		if err := a.runtime.RemoveContainer(ctx, containerID); err != nil {
			a.logger.Warn().Err(err).Msg("failed to remove container during stop")
		}
		a.reportTerminal(ctx, jobID, types.JobStatusCancelled, -1, "stopped")
	}

	a.wg.Wait()
	return nil
}

// reconcileOrStart implements the startup-reconciliation supplement: if a
// container already exists for the assigned job, resume waiting on it
// instead of recreating it from scratch.
func (a *Agent) reconcileOrStart(jobID string, existingContainers []string) {
	name := jobContainerName(jobID)
	for _, c := range existingContainers {
		if c == name {
			a.logger.Info().Str("job_id", jobID).Msg("reattaching to existing container after restart")
			a.beginJob(jobID)
			a.wg.Add(1)
			go a.awaitContainer(jobID, name)
			return
		}
	}
	a.startJob(jobID)
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.sendHeartbeat(context.Background(), true); err != nil {
				a.logger.Error().Err(err).Msg("heartbeat failed")
			}
		case <-a.stopCh:
			return
		}
	}
}

// sendHeartbeat posts current status and handles the assignment in the
// response per spec §4.1 ("Heartbeat response handling"). With dispatch
// false (Start's initial registration heartbeat) a new assignment is only
// returned, not started, so Start can reconcile it against existing
// containers first.
func (a *Agent) sendHeartbeat(ctx context.Context, dispatch bool) (string, error) {
	a.mu.Lock()
	report := client.NodeStatusReport{
		Status:             a.status,
		CPU:                a.cpu,
		GPU:                a.gpu,
		MemoryMB:           a.memoryMB,
		RunningJobID:       a.runningJobID,
		HeartbeatTimestamp: time.Now(),
	}
	currentJob := a.runningJobID
	a.mu.Unlock()

	hbCtx, cancel := context.WithTimeout(ctx, client.DefaultTimeout)
	defer cancel()

	assignedJobID, err := a.client.ReportNodeStatus(hbCtx, a.nodeID, report)
	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("report node status: %w", err)
	}
	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()

	switch {
	case assignedJobID == "":
		// No assignment: remain as we are (Available and idle, or still
		// reporting a job we have not yet finished).
	case assignedJobID == currentJob:
		// Idempotent redelivery of an assignment we already hold; no-op.
	case currentJob == "" && !dispatch:
		// Start hands the assignment to reconcileOrStart.
	case currentJob == "":
		a.startJob(assignedJobID)
	default:
		// A different job is assigned while one is already running locally:
		// the agent must not accept it. Keep heartbeating with the current
		// reported job so the control plane can reconcile.
		a.logger.Warn().
			Str("assigned_job_id", assignedJobID).
			Str("running_job_id", currentJob).
			Msg("control plane assigned a different job while one is already running; ignoring")
	}

	return assignedJobID, nil
}

func (a *Agent) beginJob(jobID string) {
	a.mu.Lock()
	a.status = types.NodeStatusBusy
	a.runningJobID = jobID
	a.mu.Unlock()
}

func (a *Agent) finishJob() {
	a.mu.Lock()
	a.status = types.NodeStatusAvailable
	a.runningJobID = ""
	a.mu.Unlock()
}

// startJob fetches job details and spawns execution in a goroutine separate
// from the heartbeat loop, per spec §4.1. A graceful stop acts on the
// container directly (see Stop), not by cancelling this context, so
// WaitContainer observes the container's real exit rather than a canceled
// request mid-pull.
func (a *Agent) startJob(jobID string) {
	a.beginJob(jobID)

	a.wg.Add(1)
	go a.runJob(context.Background(), jobID)
}

// runJob executes the six job-execution steps from spec §4.1, reporting the
// resulting terminal status, then returns the agent to Available.
func (a *Agent) runJob(ctx context.Context, jobID string) {
	defer a.wg.Done()
	defer a.finishJob()

	jobLog := log.WithField("job_id", jobID)

	details, err := a.client.FetchJobDetails(ctx, jobID)
	if errors.Is(err, client.ErrNotFound) {
		jobLog.Warn().Msg("job no longer exists on control plane, treating as cancelled on this node")
		return
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("failed to fetch job details")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, -1, fmt.Sprintf("fetch job details: %v", err))
		return
	}

	name := jobContainerName(jobID)
	jobLog.Info().Str("image", details.Image).Msg("starting job")

	// Step 3: remove any stale container under our reserved name.
	if err := a.runtime.RemoveStaleContainer(ctx, name); err != nil {
		jobLog.Error().Err(err).Msg("failed to remove stale container")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, -1, fmt.Sprintf("remove stale container: %v", err))
		return
	}

	// Steps 1-2: authenticate (credentials already loaded at startup) and
	// pull the image.
	if err := a.runtime.PullImage(ctx, details.Image, a.registryAuth); err != nil {
		jobLog.Error().Err(err).Msg("failed to pull image")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, -1, fmt.Sprintf("pull image: %v", err))
		return
	}

	a.mu.Lock()
	hasGPU := a.gpu != nil
	a.mu.Unlock()

	spec := runtime.ContainerSpec{
		Name:        name,
		Image:       details.Image,
		CPUMillis:   details.Requirements.CPUMillicores,
		MemoryMB:    details.Requirements.MemoryMB,
		RequestGPUs: hasGPU && details.Requirements.GPU != nil,
	}

	// Step 4: create the container.
	containerID, err := a.runtime.CreateContainer(ctx, spec)
	if err != nil {
		jobLog.Error().Err(err).Msg("failed to create container")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, -1, fmt.Sprintf("create container: %v", err))
		return
	}

	// Step 5: start, then block until it exits.
	timer := metrics.NewTimer()
	if err := a.runtime.StartContainer(ctx, containerID); err != nil {
		jobLog.Error().Err(err).Msg("failed to start container")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, -1, fmt.Sprintf("start container: %v", err))
		return
	}
	a.reportRunning(ctx, jobID)

	exitCode, err := a.runtime.WaitContainer(ctx, containerID)
	timer.ObserveDuration(metrics.JobExecutionDuration)

	// Step 6: remove the container, best-effort remove the image.
	a.cleanup(containerID, details.Image)

	if err != nil {
		jobLog.Error().Err(err).Msg("error waiting for container")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, exitCode, fmt.Sprintf("wait container: %v", err))
		return
	}

	if exitCode == 0 {
		jobLog.Info().Msg("job succeeded")
		a.reportTerminal(ctx, jobID, types.JobStatusSucceeded, exitCode, "")
	} else {
		jobLog.Warn().Int("exit_code", exitCode).Msg("job failed")
		a.reportTerminal(ctx, jobID, types.JobStatusFailed, exitCode, fmt.Sprintf("container exited with code %d", exitCode))
	}
}

// awaitContainer resumes waiting on a container found during startup
// reconciliation, skipping the pull/create steps entirely.
func (a *Agent) awaitContainer(jobID, containerID string) {
	defer a.wg.Done()
	defer a.finishJob()

	jobLog := log.WithField("job_id", jobID)
	details, err := a.client.FetchJobDetails(context.Background(), jobID)
	image := ""
	if err == nil {
		image = details.Image
	}
	a.reportRunning(context.Background(), jobID)

	timer := metrics.NewTimer()
	exitCode, err := a.runtime.WaitContainer(context.Background(), containerID)
	timer.ObserveDuration(metrics.JobExecutionDuration)
	a.cleanup(containerID, image)

	if err != nil {
		jobLog.Error().Err(err).Msg("error waiting for reattached container")
		a.reportTerminal(context.Background(), jobID, types.JobStatusFailed, exitCode, fmt.Sprintf("wait container: %v", err))
		return
	}

	if exitCode == 0 {
		a.reportTerminal(context.Background(), jobID, types.JobStatusSucceeded, exitCode, "")
	} else {
		a.reportTerminal(context.Background(), jobID, types.JobStatusFailed, exitCode, fmt.Sprintf("container exited with code %d", exitCode))
	}
}

func (a *Agent) cleanup(containerID, imageRef string) {
	ctx := context.Background()
	if err := a.runtime.RemoveContainer(ctx, containerID); err != nil {
		a.logger.Warn().Err(err).Str("container", containerID).Msg("failed to remove container")
	}
	if imageRef == "" {
		return
	}
	if err := a.runtime.RemoveImage(ctx, imageRef); err != nil {
		a.logger.Debug().Err(err).Str("image", imageRef).Msg("best-effort image removal failed")
	}
}

// reportRunning marks jobID Running on the control plane through the job
// status endpoint, called as soon as the container has started (or, after
// a restart, as soon as it is reattached). Failure is logged, not retried;
// heartbeats keep carrying running_job_id, which the control plane records
// as the node's reported job but does not apply to the job's status.
func (a *Agent) reportRunning(ctx context.Context, jobID string) {
	reportCtx, cancel := context.WithTimeout(ctx, client.DefaultTimeout)
	defer cancel()
	if err := a.client.ReportJobStatus(reportCtx, jobID, types.JobStatusRunning, 0, ""); err != nil {
		log.WithField("job_id", jobID).Error().Err(err).Msg("failed to report running job status")
	}
}

func (a *Agent) reportTerminal(ctx context.Context, jobID string, status types.JobStatus, exitCode int, message string) {
	select {
	case <-a.stopCh:
		if status != types.JobStatusCancelled {
			return // Stop has already reported the in-flight job Cancelled.
		}
	default:
	}
	metrics.JobsExecutedTotal.WithLabelValues(string(status)).Inc()

	reportCtx, cancel := context.WithTimeout(ctx, client.DefaultTimeout)
	defer cancel()
	if err := a.client.ReportJobStatus(reportCtx, jobID, status, exitCode, message); err != nil {
		log.WithField("job_id", jobID).Error().Err(err).Msg("failed to report terminal job status")
	}
}
