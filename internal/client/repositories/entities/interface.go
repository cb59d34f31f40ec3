package entities

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Repository is the read-through cache for server-owned reference data.
// Entities are keyed by (kind, server id) and refreshed opportunistically.
type Repository interface {
	// Put upserts a snapshot, stamping cached_at.
	Put(ctx context.Context, entity *models.CachedEntity) error

	// Get returns one cached entity or common.ErrorNotFound.
	Get(ctx context.Context, kind, id string) (*models.CachedEntity, error)

	// List returns all cached entities; a non-empty kind narrows the result.
	List(ctx context.Context, kind string) ([]models.CachedEntity, error)

	// DeleteOlderThan sweeps entities cached before now-maxAge and returns
	// the number removed.
	DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}
