package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// Indexer stores enriched records in the search index.
type Indexer interface {
	Index(ctx context.Context, entry domain.LogEntry) error
}

// Resolver returns best-effort network metadata for a remote IP.
// Fields that could not be resolved are left empty.
type Resolver interface {
	Resolve(ctx context.Context, remoteIP string) domain.Enrichment
}
