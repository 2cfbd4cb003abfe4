package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// JobContainerPrefix is the reserved container-name namespace the agent
// exclusively owns; it may force-remove anything under it.
const JobContainerPrefix = "lilac-job-"

// DockerRuntime implements Runtime against a local Docker Engine.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon at host (empty string uses
// the environment's default, typically the local Unix socket).
func NewDockerRuntime(host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// PullImage pulls imageRef, consuming the pull-progress stream to
// completion; any stream read error fails the pull per spec §4.1 step 2.
func (r *DockerRuntime) PullImage(ctx context.Context, imageRef string, registryAuth string) error {
	rc, err := r.cli.ImagePull(ctx, imageRef, image.PullOptions{RegistryAuth: registryAuth})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: stream error: %w", imageRef, err)
	}
	return nil
}

// RemoveStaleContainer force-removes any existing container with this name,
// treating "not found" as success.
func (r *DockerRuntime) RemoveStaleContainer(ctx context.Context, name string) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove stale container %s: %w", name, err)
	}
	return nil
}

// CreateContainer creates a container honoring spec's resource limits and,
// when requested, a request for every GPU on the host — the Docker Engine
// API's DeviceRequests{Count: -1, Capabilities: [["gpu"]]} shape.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image: spec.Image,
		Env:   spec.Env,
	}

	hostCfg := &container.HostConfig{}
	if spec.CPUMillis > 0 {
		hostCfg.NanoCPUs = spec.CPUMillis * 1_000_000 // millicores -> nanocpus
	}
	if spec.MemoryMB > 0 {
		hostCfg.Memory = spec.MemoryMB * 1024 * 1024
	}
	if spec.RequestGPUs {
		hostCfg.Resources.DeviceRequests = []container.DeviceRequest{
			{
				Count:        -1,
				Capabilities: [][]string{{"gpu"}},
			},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

// WaitContainer blocks on the "not-running" wait condition, yielding the
// container's exit code.
func (r *DockerRuntime) WaitContainer(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("wait container %s: %w", containerID, err)
		}
		return 0, nil
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

// StopContainer requests a graceful stop within timeout; the Docker daemon
// issues SIGKILL itself if the container ignores SIGTERM past that point.
func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

// RemoveImage is best-effort: failure is logged by the caller but never
// fails the job, per spec §4.1 step 6.
func (r *DockerRuntime) RemoveImage(ctx context.Context, imageRef string) error {
	_, err := r.cli.ImageRemove(ctx, imageRef, image.RemoveOptions{Force: false})
	if err != nil {
		return fmt.Errorf("remove image %s: %w", imageRef, err)
	}
	return nil
}

func (r *DockerRuntime) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
}

// ListJobContainers lists container names under JobContainerPrefix, for the
// agent's startup reconciliation pass.
func (r *DockerRuntime) ListJobContainers(ctx context.Context) ([]string, error) {
	f := filters.NewArgs(filters.Arg("name", JobContainerPrefix))
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list job containers: %w", err)
	}

	names := make([]string, 0, len(containers))
	for _, c := range containers {
		for _, n := range c.Names {
			trimmed := strings.TrimPrefix(n, "/")
			if strings.HasPrefix(trimmed, JobContainerPrefix) {
				names = append(names, trimmed)
				break
			}
		}
	}
	return names, nil
}

var _ Runtime = (*DockerRuntime)(nil)
