// Package log provides the structured logging abstraction used by logship
// components.
//
// Components depend on the [Logger] interface rather than on a concrete
// logging library. A zerolog-backed implementation is provided for the CLI and
// a no-op logger for tests.
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	logger.Info("tailer started", log.String("path", path))
//
// Scoped loggers carry fields into every subsequent message:
//
//	tl := logger.With(log.String("path", path))
//	tl.Warn("file truncated", log.Int64("offset", off))
package log
