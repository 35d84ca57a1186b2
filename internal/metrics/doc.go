// Package metrics provides lock-free counters for authentication
// observability.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically via [sync/atomic.AddUint64]. The write path never allocates.
//
// # Architecture boundaries
//
// This package owns metric storage and snapshot creation. Export lives in
// metrics/otelexport and reads Snapshot values through an observable
// callback.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import sibling packages.
//   - Expose global metric registries.
package metrics
