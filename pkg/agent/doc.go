/*
Package agent implements the Node Agent: registration, heartbeating, and
job execution for one worker host.

The heartbeat loop and job execution run on independent goroutines — a slow
or stuck job never delays a heartbeat, and a control-plane assignment never
blocks waiting for the next tick. Job execution follows six steps
(remove-stale, pull, create, start, wait, cleanup); any step's failure reports the
job Failed with the error as its message. Exit code 0 reports Succeeded,
any other exit code reports Failed.

On startup the agent lists the containers (running or exited) under its
reserved name prefix and reattaches its wait loop to one matching the control
plane's current assignment, instead of creating a duplicate after an agent
crash-restart.
*/
package agent
