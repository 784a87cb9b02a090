// Package domain contains the core domain entities and value objects for
// serialbatch.
//
// This package represents the innermost layer of the architecture. It has no
// dependencies on infrastructure concerns (device I/O, logging, configuration)
// and contains only the data types and invariants of byte coalescing.
//
// # Entities
//
//   - [Chunk]: One contiguous run of bytes produced by a single raw-receive event
//   - [Concat]: Builds a delivered batch by concatenating drained chunks in order
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Testable without mocks or external systems
package domain
