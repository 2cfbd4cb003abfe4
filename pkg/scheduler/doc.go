/*
Package scheduler runs the periodic control-plane task that walks queues in
priority order and hands queued jobs to the placement engine.

# Architecture

	Scheduler Loop (every 10s, non-overlapping)
	  -> list queues, priority ascending then creation time
	  -> for each queue: list Queued jobs, FIFO
	       -> for each job: try cluster_targets in order
	            -> first successful placement: mark job Starting, advance
	            -> no cluster fits: leave Queued, continue to next job

A cycle never blocks on a prior cycle; a tick that fires mid-cycle is
skipped rather than queued, since interrupting a cycle could leave
Node.AssignedJobID set with no corresponding job transition.

The scheduler holds no state between cycles beyond the repository
reference: a crash mid-cycle simply leaves some jobs Queued until the next
tick.
*/
package scheduler
