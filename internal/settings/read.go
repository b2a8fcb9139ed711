package settings

import (
	"context"

	"github.com/confsync/confsync/internal/resolve"
	"github.com/confsync/confsync/internal/value"
)

// Get resolves key for the given context and returns the effective value.
func (s *Service) Get(ctx context.Context, key string, rctx resolve.Context) (value.Value, error) {
	res, err := s.GetDetailed(ctx, key, rctx)
	if err != nil {
		return value.Value{}, err
	}

	return res.Value, nil
}

// GetDetailed resolves key and reports which scope supplied the value.
// Results are cached per (key, context). While the sync transport is
// degraded results are marked stale because remote writes may not have
// arrived yet.
func (s *Service) GetDetailed(ctx context.Context, key string, rctx resolve.Context) (resolve.Resolved, error) {
	degraded := s.connectivity().Degraded()

	if res, found := s.cache.Get(key, rctx); found {
		res.Stale = degraded
		observeResolution(res.Level)
		return res, nil
	}

	res, err := s.engine.Resolve(ctx, key, rctx)
	if err != nil {
		return resolve.Resolved{}, err
	}

	s.cache.Put(key, rctx, res, s.cacheTTL)
	observeResolution(res.Level)

	res.Stale = degraded

	return res, nil
}
