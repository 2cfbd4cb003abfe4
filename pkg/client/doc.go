/*
Package client is the agent's view of the control plane: three typed calls
over plain HTTPS, each bounded by DefaultTimeout so a slow or unreachable
control plane never blocks the agent's heartbeat or job loop past one tick.

	cp := client.New("https://control.example.com", clusterAPIKey)
	assignedJobID, err := cp.ReportNodeStatus(ctx, nodeID, report)
	details, err := cp.FetchJobDetails(ctx, assignedJobID)
	err = cp.ReportJobStatus(ctx, assignedJobID, types.JobStatusRunning, 0, "")

ErrUnauthorized and ErrNotFound let the caller apply the retry policy from
spec §7 (stop retrying on 401, treat 404 as fatal for that ID) without
string-matching error text.
*/
package client
