/*
Package controlplane is the agent-facing HTTP boundary: three routes, all
behind cluster bearer-token auth, all backed directly by a
repository.Repository with no additional in-process state.

	POST /node/{node_id}/status   heartbeat + registration, returns assigned_job_id
	GET  /jobs/{job_id}/details   image + resource requirements for a placed job
	POST /jobs/{job_id}/status    terminal status report, releases the node

A 401 here means the caller must stop retrying until an operator reissues a
key, and a 404 means the job ID is unknown, which the agent treats as final
for that ID; every other failure is transient from the agent's point of view.
*/
package controlplane
