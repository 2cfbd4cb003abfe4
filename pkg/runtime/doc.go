/*
Package runtime is the agent's container lifecycle port (pull, create,
start, wait, stop, remove) and a Docker-Engine-API-backed implementation.

DockerRuntime talks to a local Docker daemon over its Unix socket. GPU jobs
are requested through Docker's device-request mechanism
(DeviceRequests{Count: -1, Capabilities: [["gpu"]]}), which asks the daemon
for every GPU exposed by its configured container runtime rather than
enumerating individual device paths.

The teacher's containerd-backed implementation was grounding material for
this package's method-set shape, not something adapted in place — it took
*types.Container (the teacher's service/task model, since removed) as its
central argument, so it could not be generalized onto Job/Node without a
rewrite indistinguishable from DockerRuntime. See DESIGN.md.
*/
package runtime
