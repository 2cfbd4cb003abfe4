/*
Package reaper reclaims nodes whose agent has stopped heartbeating. It is an
optional component: the control plane binary may start it alongside the
scheduler, or an operator may run the equivalent reclaim by hand against the
same repository.

A node is reclaimed when its last heartbeat is older than StaleFactor times
the configured heartbeat interval. Reclaiming clears the node's assignment
via the same compare-and-set the agent uses to report job completion, and
requeues the job so the scheduler picks it up again on its next cycle.
*/
package reaper
