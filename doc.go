// Package sdk is the root of the integration execution framework: a
// generic driver that runs a provider integration's data-collection steps,
// assembles the collected data into a canonical graph of entities and
// relationships, and uploads that graph to the synchronization service in
// batches.
//
// # Architecture
//
// An invocation flows through a small set of collaborating packages:
//
//   - scheduler: dependency-ordered step execution with bounded
//     concurrency and status propagation to dependents
//   - graphobject: canonical entity/relationship types and deterministic
//     canonicalization of raw provider data
//   - graphstore: disk-backed batching of produced graph objects with a
//     sharded per-type index
//   - eventqueue: ordered delivery of step lifecycle events to the
//     synchronization service
//   - synchronization: the remote job lifecycle (initiate, batched
//     upload, finalize or abort)
//   - execution: the orchestrator wiring all of the above around one
//     invocation
//   - logger, metric, errors, config: the ambient surfaces threaded
//     through every component
//
// Integrations declare their steps and config fields in an
// execution.InvocationConfig, then either call execution.Execute directly
// or build a command-line driver with the cli package. See
// cmd/example-integration for a complete minimal integration.
package sdk
