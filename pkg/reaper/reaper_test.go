package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCycleReapsStaleAssignedNode(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	require.NoError(t, repo.CreateJob(ctx, &types.Job{ID: "job-1", QueueID: "q1", Status: types.JobStatusStarting}))
	_, err := repo.UpsertNodeHeartbeat(ctx, "node-1", repository.HeartbeatUpdate{
		ClusterID: "cluster-1",
		Status:    types.NodeStatusAvailable,
		Timestamp: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	ok, err := repo.AssignJobToNode(ctx, "node-1", "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	r := New(repo, 10*time.Second, time.Second)
	require.NoError(t, r.RunCycle(ctx))

	node, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Empty(t, node.AssignedJobID)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, job.Status)
}

func TestRunCycleLeavesFreshNodeAlone(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	require.NoError(t, repo.CreateJob(ctx, &types.Job{ID: "job-1", QueueID: "q1", Status: types.JobStatusRunning}))
	_, err := repo.UpsertNodeHeartbeat(ctx, "node-1", repository.HeartbeatUpdate{
		ClusterID: "cluster-1",
		Status:    types.NodeStatusAvailable,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	ok, err := repo.AssignJobToNode(ctx, "node-1", "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	r := New(repo, 10*time.Second, time.Second)
	require.NoError(t, r.RunCycle(ctx))

	node, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", node.AssignedJobID, "recently-heartbeating node must not be reaped")
}

func TestRunCycleSkipsUnassignedNode(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	_, err := repo.UpsertNodeHeartbeat(ctx, "node-1", repository.HeartbeatUpdate{
		ClusterID: "cluster-1",
		Status:    types.NodeStatusAvailable,
		Timestamp: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	r := New(repo, 10*time.Second, time.Second)
	require.NoError(t, r.RunCycle(ctx))

	node, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Empty(t, node.AssignedJobID)
}
