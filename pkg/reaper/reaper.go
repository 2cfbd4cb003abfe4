// Package reaper runs a standalone ticker loop that reclaims nodes whose
// agent has gone silent, releasing the job they were assigned back onto the
// queue. It is logically external to the scheduler and placement engine:
// the control plane can run without it, and its only write path is the same
// ClearNodeAssignment/RequeueJob compare-and-set primitives a human operator
// would use by hand.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/metrics"
	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/rs/zerolog"
)

// DefaultInterval is the default tick period between reap cycles.
const DefaultInterval = 10 * time.Second

// StaleFactor is how many heartbeat intervals may elapse before a node is
// considered silent. A node's own HeartbeatInterval is not tracked by the
// repository, so the reaper is configured with a single cluster-wide
// heartbeat interval and multiplies it by this factor.
const StaleFactor = 3

// Reaper periodically scans every node and reclaims any whose last
// heartbeat is older than StaleFactor times the heartbeat interval.
type Reaper struct {
	repo              repository.Repository
	heartbeatInterval time.Duration
	interval          time.Duration
	logger            zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Reaper. heartbeatInterval is the interval agents are expected
// to heartbeat at; a zero interval selects DefaultInterval for the tick
// period only, never for the staleness threshold.
func New(repo repository.Repository, heartbeatInterval, tickInterval time.Duration) *Reaper {
	if tickInterval <= 0 {
		tickInterval = DefaultInterval
	}
	return &Reaper{
		repo:              repo,
		heartbeatInterval: heartbeatInterval,
		interval:          tickInterval,
		logger:            log.WithField("component", "reaper"),
		stopCh:            make(chan struct{}),
	}
}

// Start begins the reap loop in its own goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop terminates the reap loop. It does not interrupt a cycle already in
// progress.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reaper started")

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			r.logger.Info().Msg("reaper stopped")
			return
		}
	}
}

func (r *Reaper) tick() {
	if !r.mu.TryLock() {
		r.logger.Debug().Msg("previous reap cycle still running, skipping this tick")
		return
	}
	defer r.mu.Unlock()

	if err := r.RunCycle(context.Background()); err != nil {
		r.logger.Error().Err(err).Msg("reap cycle failed")
	}
}

// RunCycle scans every node across every cluster and reclaims any node
// whose last heartbeat exceeds StaleFactor times the heartbeat interval.
func (r *Reaper) RunCycle(ctx context.Context) error {
	metrics.ReaperCyclesTotal.Inc()

	nodes, err := r.repo.ListAllNodes(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list nodes, skipping this cycle")
		return nil
	}

	threshold := time.Duration(StaleFactor) * r.heartbeatInterval
	now := time.Now()

	for _, node := range nodes {
		if node.AssignedJobID == "" {
			continue
		}
		if now.Sub(node.LastHeartbeat) <= threshold {
			continue
		}
		r.reap(ctx, node.ID, node.AssignedJobID, now.Sub(node.LastHeartbeat))
	}
	return nil
}

// reap clears the node's assignment and requeues its job. The
// ClearNodeAssignment CAS means a late heartbeat that races this call loses
// cleanly: if the agent's own report already cleared or changed the
// assignment, this reap is a no-op.
func (r *Reaper) reap(ctx context.Context, nodeID, jobID string, silentFor time.Duration) {
	nodeLog := log.WithField("node_id", nodeID)

	cleared, err := r.repo.ClearNodeAssignment(ctx, nodeID, jobID)
	if err != nil {
		nodeLog.Error().Err(err).Str("job_id", jobID).Msg("failed to clear assignment on stale node")
		return
	}
	if !cleared {
		return
	}

	if err := r.repo.RequeueJob(ctx, jobID); err != nil {
		nodeLog.Error().Err(err).Str("job_id", jobID).Msg("failed to requeue job after reaping node")
		return
	}

	metrics.NodesReapedTotal.Inc()
	nodeLog.Warn().
		Str("job_id", jobID).
		Dur("silent_for", silentFor).
		Msg("reaped stale node, job requeued")
}
