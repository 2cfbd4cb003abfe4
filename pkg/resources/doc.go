/*
Package resources answers "what can this host offer a job": CPU millicores,
memory in MiB, and an optional GPU inventory, introspected once by pkg/agent
at startup and reported on every heartbeat.

cgroup v2 limits take priority over whole-host figures so an agent running
inside its own container reports only the share it was actually granted.
GPU detection shells out to nvidia-smi; its absence is expected on most
hosts and never fails introspection.
*/
package resources
