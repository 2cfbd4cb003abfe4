/*
Package types defines Lilac's core data model: clusters, nodes, jobs, and
queues. These types are used by every other package for state management,
HTTP wire payloads, and scheduling logic.

# Core Types

Cluster Topology:
  - Cluster: a named grouping of Nodes; the unit of placement targeting
  - Node: a worker host with resource inventory and assignment state
  - NodeStatus: available or busy

Job Scheduling:
  - Job: a submitted training run and its resource requirements
  - JobStatus: queued, starting, running, succeeded, failed, cancelled
  - Queue: an ordered admission point with priority and cluster targets

Resources:
  - ResourceRequirements: CPU millicores, memory MiB, optional GPU spec
  - CPUInfo, GPUInfo: node resource inventory reported by the agent

# State Machine

Jobs follow:

	Queued -> Starting -> Running -> Succeeded
	                         |
	                         +-> Failed
	                         +-> Cancelled
	Queued <- requeue (operator, e.g. node reaper)

  - Queued -> Starting: written by the scheduler loop together with node_id.
  - Starting -> Running: written by the agent as soon as the job's container
    has started.
  - Running -> Succeeded | Failed: written by the agent on container exit.
  - Running -> Cancelled: written by the agent in response to an explicit stop.

# Thread Safety

Types in this package carry no synchronization of their own; callers holding
a *Node or *Job across goroutines must not mutate it concurrently. The
repository layer is the only place allowed to apply compare-and-set updates
to Node.AssignedJobID.
*/
package types
