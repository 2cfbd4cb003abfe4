/*
Package health exposes the liveness and readiness HTTP endpoints shared by
the agent and control-plane processes.

/healthz always returns 200 once the process is serving HTTP; it never
touches a dependency. /readyz runs every registered Checker (the control
plane checks its Repository, the agent checks its Docker daemon) and
returns 503 if any fails, so an orchestrator can hold back traffic or
restarts until dependencies recover.

The teacher's per-container HTTP/TCP/exec health checkers (used to decide
whether a long-running service container should be replaced) have no
equivalent here: training jobs run once to a terminal status and are never
health-checked or replaced mid-run. See DESIGN.md.
*/
package health
