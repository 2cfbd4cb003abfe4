/*
Package placement implements the Placement Engine: given a queued job and a
target cluster, select an eligible node using best-fit bin packing and
claim it atomically.

The algorithm never waits and never retries internally — an empty result
means "no placement this call"; the caller (the scheduler loop) retries on
its next tick. Ties in memory resolve by whatever order the repository
returns nodes in, which is acceptable because any eligible tie is equally
valid.
*/
package placement
