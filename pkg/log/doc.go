/*
Package log provides structured logging for Lilac using zerolog.

A single global Logger is configured once via Init and shared by every
package. WithField attaches one context field (component, node_id, job_id,
queue_id, cluster_id, ...) without requiring callers to repeat it on every
log line.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	agentLog := log.WithField("component", "agent").With().Str("node_id", nodeID).Logger()
	agentLog.Info().Msg("heartbeat sent")

	schedLog := log.WithField("component", "scheduler")
	schedLog.Debug().Str("queue_id", queueID).Msg("cycle starting")

Console output (human-readable, colorized) is the default and suits local
development; set JSONOutput (the CLI's --log-json flag) for production.
*/
package log
