/*
Package repository implements the durable persistence boundary consumed by
the placement engine, scheduler loop, and control plane: queues, jobs,
nodes, and clusters, plus the compare-and-set operations that make claiming
a node race-safe without locks.

Two implementations satisfy the same Repository interface: BoltRepository
for real deployments and MemoryRepository for tests and single-process
demos. Callers should depend on the interface, not a concrete type.
*/
package repository
