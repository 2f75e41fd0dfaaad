// Package watch discovers log files in watched directories and tails them
// into the message queue.
//
// A [DirectoryWatcher] subscribes to filesystem events for one directory and
// wakes the [Tailer] responsible for each changed file, creating it on first
// sight. Tailers are kept in a [Registry] shared by all watchers so a file is
// never tailed twice. Each tailer runs its own goroutine, reads new complete
// lines in chunks, publishes them through a [ports.Producer] and persists its
// progress through a [ports.OffsetStore] after every accepted chunk.
package watch
