package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// DefaultCacheMaxAge is how long a cached entity stays useful offline before
// the sweeper drops it.
const DefaultCacheMaxAge = 7 * 24 * time.Hour

// IsOnlineFunc reports current connectivity. Wired to the engine so cache
// reads and the sync queue agree on what "online" means.
type IsOnlineFunc func() bool

// CacheService is the read side: server-owned reference data (jobs, sites,
// materials) fetched through the API and kept locally so screens render
// offline.
type CacheService struct {
	store    *store.Store
	api      api.Client
	isOnline IsOnlineFunc
	maxAge   time.Duration
	log      logging.Logger
}

func NewCacheService(st *store.Store, client api.Client, isOnline IsOnlineFunc, maxAge time.Duration, log logging.Logger) *CacheService {
	if log == nil {
		log = logging.Discard()
	}
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	return &CacheService{store: st, api: client, isOnline: isOnline, maxAge: maxAge, log: log}
}

// GetEntity returns one entity, fresh from the server when the device is
// online and from the cache otherwise. A fetch failure falls back to the
// cached copy rather than surfacing to the screen.
func (s *CacheService) GetEntity(ctx context.Context, kind, id, endpoint string) (*models.CachedEntity, error) {
	if err := s.store.Init(ctx); err != nil {
		return nil, err
	}

	if s.isOnline() {
		body, err := s.api.Fetch(ctx, endpoint)
		if err == nil {
			entity := &models.CachedEntity{ID: id, Kind: kind, Data: body}
			if err := s.store.Entities.Put(ctx, entity); err != nil {
				s.log.Warn(ctx, "failed to cache entity", "kind", kind, "id", id, "error", err)
			}
			return entity, nil
		}
		s.log.Debug(ctx, "fetch failed, falling back to cache", "kind", kind, "id", id, "error", err)
	}

	entity, err := s.store.Entities.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %s/%s not cached", common.ErrorNotFound, kind, id)
		}
		return nil, err
	}
	return entity, nil
}

// List returns every cached entity of one kind, cache only.
func (s *CacheService) List(ctx context.Context, kind string) ([]models.CachedEntity, error) {
	if err := s.store.Init(ctx); err != nil {
		return nil, err
	}
	return s.store.Entities.List(ctx, kind)
}

// Sweep drops entities older than the configured maximum age and returns how
// many were removed.
func (s *CacheService) Sweep(ctx context.Context) (int, error) {
	if err := s.store.Init(ctx); err != nil {
		return 0, err
	}
	removed, err := s.store.Entities.DeleteOlderThan(ctx, s.maxAge)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info(ctx, "cache swept", "removed", removed)
	}
	return removed, nil
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (s *CacheService) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Warn(ctx, "cache sweep failed", "error", err)
				}
			}
		}
	}()
}
