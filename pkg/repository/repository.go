// Package repository defines the durable persistence boundary the scheduler
// loop, placement engine, and control plane use to read and mutate Node,
// Job, Queue, and Cluster state. It is an abstract interface, not bound to
// any database; a BoltDB-backed implementation and an in-memory
// implementation (for tests) are both provided.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lilac-sh/lilac/pkg/types"
)

// ErrNotFound is returned when a lookup by ID finds no record.
var ErrNotFound = errors.New("repository: not found")

// HeartbeatUpdate carries the fields a node heartbeat may refresh.
type HeartbeatUpdate struct {
	ClusterID     string
	Hostname      string
	Status        types.NodeStatus
	CPU           types.CPUInfo
	GPU           *types.GPUInfo
	Memory        int64
	ReportedJobID string
	Timestamp     time.Time
}

// Repository is the durable persistence boundary described in spec §6.
// Implementations must make AssignJobToNode and ClearNodeAssignment atomic
// compare-and-set operations; callers never read-then-write around them.
type Repository interface {
	// Queues
	ListQueuesSorted(ctx context.Context) ([]*types.Queue, error)
	GetQueue(ctx context.Context, queueID string) (*types.Queue, error)
	CreateQueue(ctx context.Context, queue *types.Queue) error

	// Jobs
	ListQueuedJobsForQueue(ctx context.Context, queueID string) ([]*types.Job, error)
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	CreateJob(ctx context.Context, job *types.Job) error
	MarkJobStarting(ctx context.Context, jobID, nodeID string) error
	UpdateJobStatus(ctx context.Context, jobID string, status types.JobStatus, exitCode int, message string) error
	RequeueJob(ctx context.Context, jobID string) error

	// Nodes
	ListClusterNodes(ctx context.Context, clusterID string) ([]*types.Node, error)
	ListAllNodes(ctx context.Context) ([]*types.Node, error)
	GetNode(ctx context.Context, nodeID string) (*types.Node, error)
	UpsertNodeHeartbeat(ctx context.Context, nodeID string, update HeartbeatUpdate) (*types.Node, error)

	// AssignJobToNode is the only write path that sets Node.AssignedJobID. It
	// succeeds (returns true) only if the node's AssignedJobID was empty at
	// the moment of the write; otherwise it returns false and the caller
	// must treat the node as lost to a concurrent scheduler or reaper.
	AssignJobToNode(ctx context.Context, nodeID, jobID string) (bool, error)

	// ClearNodeAssignment clears AssignedJobID conditioned on it still
	// equaling jobID. Used by the reaper to release a node whose agent has
	// gone silent.
	ClearNodeAssignment(ctx context.Context, nodeID, jobID string) (bool, error)

	// Clusters
	CreateCluster(ctx context.Context, cluster *types.Cluster) error
	GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error)

	Close() error
}
