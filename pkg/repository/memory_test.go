package repository

import (
	"context"
	"testing"
	"time"

	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignJobToNodeCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.UpsertNodeHeartbeatHelper(ctx, "node-1", "cluster-1"))

	ok, err := repo.AssignJobToNode(ctx, "node-1", "job-1")
	require.NoError(t, err)
	assert.True(t, ok, "first claim should win")

	ok, err = repo.AssignJobToNode(ctx, "node-1", "job-2")
	require.NoError(t, err)
	assert.False(t, ok, "second claim on an already-assigned node must lose")

	node, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", node.AssignedJobID)
	assert.Equal(t, types.NodeStatusBusy, node.Status)
}

func TestClearNodeAssignmentCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.UpsertNodeHeartbeatHelper(ctx, "node-1", "cluster-1"))

	ok, err := repo.AssignJobToNode(ctx, "node-1", "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	cleared, err := repo.ClearNodeAssignment(ctx, "node-1", "wrong-job")
	require.NoError(t, err)
	assert.False(t, cleared, "clearing with the wrong job id must be a no-op")

	cleared, err = repo.ClearNodeAssignment(ctx, "node-1", "job-1")
	require.NoError(t, err)
	assert.True(t, cleared)

	node, err := repo.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Empty(t, node.AssignedJobID)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)
}

func TestListQueuesSortedByPriorityThenCreation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	now := time.Unix(1700000000, 0)
	require.NoError(t, repo.CreateQueue(ctx, &types.Queue{ID: "q-low", Priority: 100, CreatedAt: now}))
	require.NoError(t, repo.CreateQueue(ctx, &types.Queue{ID: "q-hi", Priority: 10, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.CreateQueue(ctx, &types.Queue{ID: "q-hi-older", Priority: 10, CreatedAt: now}))

	queues, err := repo.ListQueuesSorted(ctx)
	require.NoError(t, err)
	require.Len(t, queues, 3)
	assert.Equal(t, "q-hi-older", queues[0].ID)
	assert.Equal(t, "q-hi", queues[1].ID)
	assert.Equal(t, "q-low", queues[2].ID)
}

func TestListQueuedJobsForQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	base := time.Unix(1700000000, 0)
	require.NoError(t, repo.CreateJob(ctx, &types.Job{ID: "j2", QueueID: "q1", Status: types.JobStatusQueued, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, repo.CreateJob(ctx, &types.Job{ID: "j1", QueueID: "q1", Status: types.JobStatusQueued, CreatedAt: base}))
	require.NoError(t, repo.CreateJob(ctx, &types.Job{ID: "j3", QueueID: "q1", Status: types.JobStatusRunning, CreatedAt: base.Add(-time.Minute)}))

	jobs, err := repo.ListQueuedJobsForQueue(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, jobs, 2, "running jobs are excluded")
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "j2", jobs[1].ID)
}

// UpsertNodeHeartbeatHelper is a small test convenience wrapping
// UpsertNodeHeartbeat with a minimal, valid update.
func (r *MemoryRepository) UpsertNodeHeartbeatHelper(ctx context.Context, nodeID, clusterID string) error {
	_, err := r.UpsertNodeHeartbeat(ctx, nodeID, HeartbeatUpdate{
		ClusterID: clusterID,
		Status:    types.NodeStatusAvailable,
		Timestamp: time.Now(),
	})
	return err
}
