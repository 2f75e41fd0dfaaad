package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the logship domain.
// They can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("logship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("logship: not running")

	// ErrAlreadyStopped is returned when a stopped component is started again.
	ErrAlreadyStopped = errors.New("logship: already stopped")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("logship: invalid configuration")

	// ErrAlreadyWatched is returned when a directory already has a watcher.
	ErrAlreadyWatched = errors.New("logship: directory already watched")

	// ErrNotWatched is returned when un-watching a directory that has no watcher.
	ErrNotWatched = errors.New("logship: directory not watched")

	// ErrInstanceLocked is returned when another agent holds the state lock.
	ErrInstanceLocked = errors.New("logship: another instance is running")

	// ErrMalformedStore is returned when the offset store has an unterminated section.
	ErrMalformedStore = errors.New("logship: malformed offset store")

	// ErrUnsupportedPath is returned for offset paths containing the field separator.
	ErrUnsupportedPath = errors.New("logship: path contains field separator")

	// ErrShutdownTimeout is returned when components do not stop in time.
	ErrShutdownTimeout = errors.New("logship: shutdown timed out")

	// ErrMalformedLine is returned when a log line does not match the fixed layout.
	ErrMalformedLine = errors.New("logship: malformed log line")
)

// ConfigError describes a rejected configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidConfig as a match so callers can use errors.Is.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}
