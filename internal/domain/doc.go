// Package domain contains the core entities and value objects for logship.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (queues, HTTP, file system, logging).
//
// # Entities
//
//   - [Batch]: consecutive lines of one file, published together
//   - [Message]: a single queued log line with its origin
//   - [LogEntry]: a parsed and enriched record ready for indexing
//   - [OffsetRecord]: the persisted progress of one tailed file
//
// Errors are exposed as sentinels and a typed [ConfigError], checked with
// errors.Is / errors.As.
package domain
