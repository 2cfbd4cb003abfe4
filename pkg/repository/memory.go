package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lilac-sh/lilac/pkg/types"
)

// MemoryRepository is an in-memory Repository implementation used by tests
// and by single-process demo deployments. All state lives behind a single
// mutex, matching the "single shared pool serialises durable state" model
// described for the control plane.
type MemoryRepository struct {
	mu sync.Mutex

	queues   map[string]*types.Queue
	jobs     map[string]*types.Job
	nodes    map[string]*types.Node
	clusters map[string]*types.Cluster
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		queues:   make(map[string]*types.Queue),
		jobs:     make(map[string]*types.Job),
		nodes:    make(map[string]*types.Node),
		clusters: make(map[string]*types.Cluster),
	}
}

func (r *MemoryRepository) Close() error { return nil }

// --- Queues ---

func (r *MemoryRepository) CreateQueue(ctx context.Context, queue *types.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *queue
	r.queues[queue.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetQueue(ctx context.Context, queueID string) (*types.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[queueID]
	if !ok {
		return nil, fmt.Errorf("queue %s: %w", queueID, ErrNotFound)
	}
	cp := *q
	return &cp, nil
}

// ListQueuesSorted returns all queues ordered by priority ascending, then
// creation time, matching the stability requirement in spec §3.
func (r *MemoryRepository) ListQueuesSorted(ctx context.Context) ([]*types.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Queue, 0, len(r.queues))
	for _, q := range r.queues {
		cp := *q
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Jobs ---

func (r *MemoryRepository) CreateJob(ctx context.Context, job *types.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

// ListQueuedJobsForQueue returns jobs in status Queued for the given queue,
// ordered by creation time (FIFO).
func (r *MemoryRepository) ListQueuedJobsForQueue(ctx context.Context, queueID string) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Job, 0)
	for _, j := range r.jobs {
		if j.QueueID == queueID && j.Status == types.JobStatusQueued {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) MarkJobStarting(ctx context.Context, jobID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	j.Status = types.JobStatusStarting
	j.NodeID = nodeID
	j.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) UpdateJobStatus(ctx context.Context, jobID string, status types.JobStatus, exitCode int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	j.Status = status
	j.ExitCode = exitCode
	j.Message = message
	j.UpdatedAt = time.Now()
	if status == types.JobStatusSucceeded || status == types.JobStatusFailed || status == types.JobStatusCancelled {
		j.FinishedAt = time.Now()
	}
	return nil
}

// RequeueJob returns a job to Queued without clearing its NodeID history,
// for use by an external reaper.
func (r *MemoryRepository) RequeueJob(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	j.Status = types.JobStatusQueued
	j.UpdatedAt = time.Now()
	return nil
}

// --- Nodes ---

func (r *MemoryRepository) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (r *MemoryRepository) ListClusterNodes(ctx context.Context, clusterID string) ([]*types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Node, 0)
	for _, n := range r.nodes {
		if n.ClusterID == clusterID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListAllNodes(ctx context.Context) ([]*types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

// UpsertNodeHeartbeat creates the node on first contact (registration) or
// refreshes its liveness and resource inventory on subsequent calls.
func (r *MemoryRepository) UpsertNodeHeartbeat(ctx context.Context, nodeID string, update HeartbeatUpdate) (*types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		n = &types.Node{ID: nodeID, CreatedAt: time.Now()}
		r.nodes[nodeID] = n
	}
	if update.ClusterID != "" {
		n.ClusterID = update.ClusterID
	}
	if update.Hostname != "" {
		n.Hostname = update.Hostname
	}
	if update.Status != "" {
		n.Status = update.Status
	}
	if update.CPU.Millicores != 0 {
		n.CPU = update.CPU
	}
	if update.GPU != nil {
		n.GPU = update.GPU
	}
	if update.Memory != 0 {
		n.Memory = update.Memory
	}
	if update.ReportedJobID != "" || n.AssignedJobID == "" {
		n.ReportedJobID = update.ReportedJobID
	}
	n.LastHeartbeat = update.Timestamp
	cp := *n
	return &cp, nil
}

// AssignJobToNode is the single compare-and-set write path onto
// Node.AssignedJobID described in spec §5: "set to X where currently NULL".
func (r *MemoryRepository) AssignJobToNode(ctx context.Context, nodeID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return false, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	if n.AssignedJobID != "" {
		return false, nil
	}
	n.AssignedJobID = jobID
	n.Status = types.NodeStatusBusy
	return true, nil
}

// ClearNodeAssignment is the complementary CAS: "clear where currently X".
func (r *MemoryRepository) ClearNodeAssignment(ctx context.Context, nodeID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return false, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	if n.AssignedJobID != jobID {
		return false, nil
	}
	n.AssignedJobID = ""
	n.ReportedJobID = ""
	n.Status = types.NodeStatusAvailable
	return true, nil
}

// --- Clusters ---

func (r *MemoryRepository) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cluster
	r.clusters[cluster.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

var _ Repository = (*MemoryRepository)(nil)
