// Package placement implements the best-fit bin-packing algorithm that
// binds a queued job to an eligible node inside a target cluster.
package placement

import (
	"context"
	"fmt"
	"sort"

	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/rs/zerolog"
)

// Engine selects a node for a job within one cluster and claims it.
type Engine struct {
	repo   repository.Repository
	logger zerolog.Logger
}

// NewEngine builds a placement Engine over the given repository.
func NewEngine(repo repository.Repository) *Engine {
	return &Engine{
		repo:   repo,
		logger: log.WithField("component", "placement"),
	}
}

// FindAndAllocate enumerates nodes of clusterID, filters them against
// requirements, picks the smallest-by-memory survivor, and attempts to
// claim it atomically. It returns the claimed node's ID, or nil if no
// placement could be made this call — never an error for the "no eligible
// node" case, only for genuine repository failures.
func (e *Engine) FindAndAllocate(ctx context.Context, jobID, clusterID string, requirements types.ResourceRequirements) (*string, error) {
	nodes, err := e.repo.ListClusterNodes(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list cluster nodes: %w", err)
	}

	eligible := filterEligibleNodes(nodes, requirements)
	if len(eligible) == 0 {
		e.logger.Debug().
			Str("job_id", jobID).
			Str("cluster_id", clusterID).
			Msg("no eligible node for placement")
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Memory < eligible[j].Memory
	})

	chosen := eligible[0]

	claimed, err := e.repo.AssignJobToNode(ctx, chosen.ID, jobID)
	if err != nil {
		return nil, fmt.Errorf("assign job to node: %w", err)
	}
	if !claimed {
		// Lost the node to a concurrent scheduler or reaper between the
		// list and the CAS. The caller retries on the next cycle.
		e.logger.Debug().
			Str("job_id", jobID).
			Str("node_id", chosen.ID).
			Msg("CAS conflict during placement, node claimed elsewhere")
		return nil, nil
	}

	nodeID := chosen.ID
	e.logger.Info().
		Str("job_id", jobID).
		Str("node_id", nodeID).
		Str("cluster_id", clusterID).
		Msg("placed job")
	return &nodeID, nil
}

// filterEligibleNodes returns the nodes of the input slice that satisfy
// every resource filter in spec step 2: availability, CPU, memory, and
// (when requested) GPU count/model/per-card memory.
func filterEligibleNodes(nodes []*types.Node, req types.ResourceRequirements) []*types.Node {
	var out []*types.Node
	for _, n := range nodes {
		if n.Status != types.NodeStatusAvailable {
			continue
		}
		if n.AssignedJobID != "" {
			continue
		}
		if n.CPU.Millicores < req.CPUMillicores {
			continue
		}
		if n.Memory < req.MemoryMB {
			continue
		}
		if req.GPU != nil && !satisfiesGPU(n, req.GPU) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func satisfiesGPU(n *types.Node, req *types.GPURequirement) bool {
	if n.GPU == nil {
		return false
	}
	if n.GPU.Count < req.Count {
		return false
	}
	if req.Model != "" && n.GPU.Model != req.Model {
		return false
	}
	if req.MemoryGiB > 0 {
		memMiB := req.MemoryGiB * 1024
		if n.GPU.MemoryPerMiB < memMiB {
			return false
		}
	}
	return true
}
