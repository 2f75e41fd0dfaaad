// Package ports defines the interfaces that connect the application layer to
// infrastructure adapters.
//
// # Port Interfaces
//
//   - [Producer]: publishes batches of tailed lines to the queue
//   - [Consumer]: delivers queued lines to a handler
//   - [OffsetStore]: persists watched directories and per-file offsets
//   - [Indexer]: stores enriched records in the search index
//   - [Resolver]: looks up network metadata for a remote address
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The application packages (internal/watch, internal/app) depend only on
// these interfaces; internal/adapters provides the implementations.
package ports
