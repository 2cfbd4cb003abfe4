// Package scheduler implements the periodic control-plane task that walks
// queues in priority order, pulls queued jobs, and invokes the placement
// engine across each queue's target clusters.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/metrics"
	"github.com/lilac-sh/lilac/pkg/placement"
	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the default tick period between scheduling cycles.
const DefaultInterval = 10 * time.Second

// Scheduler runs run_cycle on a fixed tick, never overlapping two cycles.
type Scheduler struct {
	repo      repository.Repository
	placement *placement.Engine
	interval  time.Duration
	logger    zerolog.Logger

	// mu guards against two cycles running concurrently. A tick that fires
	// while the previous cycle still holds the lock is skipped rather than
	// queued, matching "executes at most one cycle concurrently" in spec §4.3.
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewScheduler builds a Scheduler over repo, using placement to claim nodes.
// An interval of zero selects DefaultInterval.
func NewScheduler(repo repository.Repository, placementEngine *placement.Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		repo:      repo,
		placement: placementEngine,
		interval:  interval,
		logger:    log.WithField("component", "scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scheduler loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop terminates the scheduler loop. It does not interrupt a cycle
// already in progress.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) tick() {
	if !s.mu.TryLock() {
		s.logger.Debug().Msg("previous scheduling cycle still running, skipping this tick")
		return
	}
	defer s.mu.Unlock()

	if err := s.RunCycle(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("scheduling cycle failed")
	}
}

// RunCycle executes one scheduling cycle: every queue in priority order,
// every queued job within a queue in FIFO order, trying each of the
// queue's cluster_targets in turn until one placement succeeds.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingCycleDuration)

	queues, err := s.repo.ListQueuesSorted(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list queues, skipping this cycle")
		return nil
	}

	for _, queue := range queues {
		s.scheduleQueue(ctx, queue.ID, queue.ClusterTargets)
	}
	return nil
}

func (s *Scheduler) scheduleQueue(ctx context.Context, queueID string, clusterTargets []string) {
	queueLog := log.WithField("queue_id", queueID)

	jobs, err := s.repo.ListQueuedJobsForQueue(ctx, queueID)
	if err != nil {
		queueLog.Error().Err(err).Msg("failed to list queued jobs, skipping to next queue")
		return
	}

	for _, job := range jobs {
		s.scheduleJob(ctx, job.ID, clusterTargets, job.Requirements)
	}
}

// scheduleJob tries each of the queue's cluster_targets in declared order
// and stops at the first cluster that produces a placement. A job with no
// successful placement this cycle is left Queued for the next tick.
func (s *Scheduler) scheduleJob(ctx context.Context, jobID string, clusterTargets []string, requirements types.ResourceRequirements) {
	jobLog := log.WithField("job_id", jobID)

	for _, clusterID := range clusterTargets {
		nodeID, err := s.placement.FindAndAllocate(ctx, jobID, clusterID, requirements)
		if err != nil {
			metrics.PlacementAttemptsTotal.WithLabelValues("error").Inc()
			jobLog.Error().Err(err).Str("cluster_id", clusterID).Msg("placement attempt failed, trying next cluster target")
			continue
		}
		if nodeID == nil {
			metrics.PlacementAttemptsTotal.WithLabelValues("no_candidate").Inc()
			continue
		}

		if err := s.repo.MarkJobStarting(ctx, jobID, *nodeID); err != nil {
			jobLog.Error().Err(err).Str("node_id", *nodeID).Msg("failed to mark job starting after placement")
			return
		}

		metrics.PlacementAttemptsTotal.WithLabelValues("placed").Inc()
		metrics.JobsScheduledTotal.Inc()
		jobLog.Info().Str("node_id", *nodeID).Str("cluster_id", clusterID).Msg("job placed")
		return
	}
}
