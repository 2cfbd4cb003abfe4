package placement

import (
	"context"
	"testing"
	"time"

	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAvailableNode(id, clusterID string, millicores, memoryMB int64, gpu *types.GPUInfo) *types.Node {
	return &types.Node{
		ID:        id,
		ClusterID: clusterID,
		Status:    types.NodeStatusAvailable,
		CPU:       types.CPUInfo{Millicores: millicores},
		Memory:    memoryMB,
		GPU:       gpu,
		CreatedAt: time.Now(),
	}
}

func TestFindAndAllocateTrivialPlacement(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.CreateCluster(ctx, &types.Cluster{ID: "c1"}))
	_, err := repo.UpsertNodeHeartbeat(ctx, "n1", repository.HeartbeatUpdate{
		ClusterID: "c1", Status: types.NodeStatusAvailable,
		CPU: types.CPUInfo{Millicores: 4000}, Memory: 8192, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	eng := NewEngine(repo)
	nodeID, err := eng.FindAndAllocate(ctx, "job-1", "c1", types.ResourceRequirements{
		CPUMillicores: 1000, MemoryMB: 1024,
	})
	require.NoError(t, err)
	require.NotNil(t, nodeID)
	assert.Equal(t, "n1", *nodeID)

	node, err := repo.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", node.AssignedJobID)
	assert.Equal(t, types.NodeStatusBusy, node.Status)
}

func TestFindAndAllocateBestFitByMemory(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	_, err := repo.UpsertNodeHeartbeat(ctx, "n-large", repository.HeartbeatUpdate{
		ClusterID: "c1", Status: types.NodeStatusAvailable,
		CPU: types.CPUInfo{Millicores: 4000}, Memory: 16384, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	_, err = repo.UpsertNodeHeartbeat(ctx, "n-small", repository.HeartbeatUpdate{
		ClusterID: "c1", Status: types.NodeStatusAvailable,
		CPU: types.CPUInfo{Millicores: 4000}, Memory: 8192, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	eng := NewEngine(repo)
	nodeID, err := eng.FindAndAllocate(ctx, "job-1", "c1", types.ResourceRequirements{
		CPUMillicores: 500, MemoryMB: 2048,
	})
	require.NoError(t, err)
	require.NotNil(t, nodeID)
	assert.Equal(t, "n-small", *nodeID, "best-fit picks the smallest node that still fits")
}

func TestFindAndAllocateGPUFilter(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	_, err := repo.UpsertNodeHeartbeat(ctx, "ng", repository.HeartbeatUpdate{
		ClusterID: "c1", Status: types.NodeStatusAvailable,
		CPU: types.CPUInfo{Millicores: 4000}, Memory: 65536,
		GPU:       &types.GPUInfo{Vendor: "NVIDIA", Model: "A100", Count: 1, MemoryPerMiB: 40 * 1024},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	eng := NewEngine(repo)

	nodeID, err := eng.FindAndAllocate(ctx, "job-fits", "c1", types.ResourceRequirements{
		CPUMillicores: 500, MemoryMB: 1024,
		GPU: &types.GPURequirement{Count: 1, Model: "A100", MemoryGiB: 40},
	})
	require.NoError(t, err)
	require.NotNil(t, nodeID)
	assert.Equal(t, "ng", *nodeID)

	// A second job asking for 2 GPUs cannot be placed on the same node.
	// Release the node first so only the GPU count can keep it off.
	cleared, err := repo.ClearNodeAssignment(ctx, "ng", "job-fits")
	require.NoError(t, err)
	require.True(t, cleared)

	nodeID2, err := eng.FindAndAllocate(ctx, "job-too-big", "c1", types.ResourceRequirements{
		CPUMillicores: 500, MemoryMB: 1024,
		GPU: &types.GPURequirement{Count: 2, Model: "A100"},
	})
	require.NoError(t, err)
	assert.Nil(t, nodeID2, "insufficient GPU count must leave the job unplaced")
}

func TestFindAndAllocateEmptyClusterReturnsNoPlacementWithoutError(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	eng := NewEngine(repo)

	nodeID, err := eng.FindAndAllocate(ctx, "job-1", "empty-cluster", types.ResourceRequirements{
		CPUMillicores: 100, MemoryMB: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, nodeID)
}

func TestFindAndAllocateConcurrentCASLoserLeavesJobUnplaced(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	_, err := repo.UpsertNodeHeartbeat(ctx, "n1", repository.HeartbeatUpdate{
		ClusterID: "c1", Status: types.NodeStatusAvailable,
		CPU: types.CPUInfo{Millicores: 1000}, Memory: 1024, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	// Simulate a second scheduler winning the CAS race first.
	ok, err := repo.AssignJobToNode(ctx, "n1", "job-other")
	require.NoError(t, err)
	require.True(t, ok)

	eng := NewEngine(repo)
	nodeID, err := eng.FindAndAllocate(ctx, "job-1", "c1", types.ResourceRequirements{
		CPUMillicores: 500, MemoryMB: 512,
	})
	require.NoError(t, err)
	assert.Nil(t, nodeID, "a node whose AssignedJobID is already set must be filtered out")
}
