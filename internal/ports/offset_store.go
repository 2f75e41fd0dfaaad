package ports

import "github.com/bft-labs/logship/internal/domain"

// OffsetStore persists the list of watched directories and the progress of
// every tailed file so the agent can resume after a restart.
// All methods are safe for concurrent use.
type OffsetStore interface {
	ListWatchedDirectories() ([]string, error)
	AddDirectoryIfAbsent(dir string) error
	RemoveDirectory(dir string) error
	ListTailerOffsets() ([]domain.OffsetRecord, error)
	UpdateTailerOffset(path string, offset int64) error
}
