package types

import "time"

// Cluster is a named grouping of Nodes and the unit of placement targeting.
// It carries no scheduling state of its own.
type Cluster struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Node is one worker host. It is identified by a UUID generated once per
// host and persisted locally by the agent across restarts.
type Node struct {
	ID        string
	ClusterID string
	Hostname  string
	Labels    map[string]string

	Status        NodeStatus
	LastHeartbeat time.Time

	CPU    CPUInfo
	GPU    *GPUInfo // nil when the host has no GPUs
	Memory int64    // total memory, MiB

	// AssignedJobID is set by the scheduler when it places a job on this
	// node and cleared when the job leaves Starting/Running. It is set
	// only while Status transitions Available -> Busy via placement.
	AssignedJobID string

	// ReportedJobID is the last job the agent itself has acknowledged
	// running; it catches up to AssignedJobID on the next heartbeat.
	ReportedJobID string

	CreatedAt time.Time
}

// NodeStatus is the node's availability as seen by the scheduler.
type NodeStatus string

const (
	NodeStatusAvailable NodeStatus = "available"
	NodeStatusBusy      NodeStatus = "busy"
)

// CPUInfo describes a node's CPU inventory.
type CPUInfo struct {
	Vendor     string
	Arch       string
	Millicores int64
}

// GPUInfo describes a node's GPU inventory. Per-card memory is uniform
// within one record.
type GPUInfo struct {
	Vendor       string
	Model        string
	Count        int
	MemoryPerMiB int64
}

// Job is one submitted training run.
type Job struct {
	ID         string
	Name       string
	Definition string // container image reference
	QueueID    string

	Requirements ResourceRequirements

	Status JobStatus
	NodeID string // set once on first placement, never unset except on explicit requeue

	Labels    map[string]string
	CreatedBy string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Message    string
}

// JobStatus is the job's position in the state machine described by the
// scheduler loop: Queued -> Starting -> Running -> {Succeeded,Failed,Cancelled}.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusStarting  JobStatus = "starting"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ResourceRequirements is what a job asks a node to provide.
type ResourceRequirements struct {
	CPUMillicores int64
	MemoryMB      int64
	GPU           *GPURequirement // nil when the job needs no GPU
}

// GPURequirement is the optional GPU clause of a job's requirements.
type GPURequirement struct {
	Count       int
	Model       string // optional filter; empty matches any model
	MemoryGiB   int64  // optional per-card floor; zero means unconstrained
}

// Queue is an ordered admission point for jobs: a priority and a
// preference-ordered list of target clusters.
type Queue struct {
	ID             string
	Name           string
	Priority       int // lower value = higher priority
	ClusterTargets []string
	CreatedAt      time.Time
}
