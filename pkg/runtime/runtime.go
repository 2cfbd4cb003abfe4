// Package runtime is the container lifecycle port the agent drives: pull,
// create, start, wait, stop, remove. A Docker-Engine-API implementation
// backs it; the interface exists so the job execution loop in pkg/agent
// never imports the Docker client directly.
package runtime

import (
	"context"
	"io"
	"time"
)

// ContainerSpec is everything needed to create one job container.
type ContainerSpec struct {
	Name        string   // reserved "lilac-job-<job_uuid>" namespace
	Image       string
	Env         []string
	CPUMillis   int64 // 0 means unconstrained
	MemoryMB    int64 // 0 means unconstrained
	RequestGPUs bool  // request all host GPUs (DeviceRequests{Count:-1})
}

// Runtime is the container lifecycle port consumed by the agent's job loop.
type Runtime interface {
	// PullImage pulls imageRef, using registryAuth (a base64-encoded Docker
	// auth config) when the registry requires credentials; pass "" for
	// anonymous pulls.
	PullImage(ctx context.Context, imageRef string, registryAuth string) error

	// RemoveStaleContainer force-removes any existing container with this
	// name, ignoring "no such container".
	RemoveStaleContainer(ctx context.Context, name string) error

	// CreateContainer creates (but does not start) a container from spec,
	// returning the runtime-assigned container ID.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a previously created container.
	StartContainer(ctx context.Context, containerID string) error

	// WaitContainer blocks until the container stops running, returning its
	// exit code.
	WaitContainer(ctx context.Context, containerID string) (exitCode int, err error)

	// StopContainer requests a graceful stop, falling back to a kill after
	// timeout.
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, containerID string) error

	// RemoveImage removes an image. Failure is never fatal to a job.
	RemoveImage(ctx context.Context, imageRef string) error

	// Logs streams the container's combined stdout/stderr.
	Logs(ctx context.Context, containerID string) (io.ReadCloser, error)

	// ListJobContainers lists container names in the reserved
	// "lilac-job-*" namespace, for startup reconciliation.
	ListJobContainers(ctx context.Context) ([]string, error)

	Close() error
}
