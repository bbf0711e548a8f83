package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keyredeem/internal/logging"
)

// Source fetches the live owned catalog.
type Source interface {
	OwnedApps(ctx context.Context) (Catalog, error)
}

// Loader returns the owned catalog, preferring a fresh cached snapshot.
type Loader struct {
	Store  *CatalogStore
	Source Source
	MaxAge time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Load returns the catalog. refresh bypasses the cache. When the live fetch
// fails a stale snapshot is used if one exists.
func (l *Loader) Load(ctx context.Context, refresh bool) (Catalog, error) {
	logger := logging.NewComponentLogger(l.Logger, "ownership")
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}

	var (
		cached    Snapshot
		haveCache bool
	)
	if l.Store != nil {
		snap, err := l.Store.Load(ctx)
		switch {
		case err == nil:
			cached, haveCache = snap, true
		case errors.Is(err, ErrNoSnapshot):
		default:
			logging.WarnWithContext(logger, "owned catalog cache unreadable", "owned_cache_read_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the cache database to rebuild it"),
				logging.String(logging.FieldImpact, "owned catalog is fetched live"))
		}
	}
	if haveCache && !refresh && cached.Fresh(now(), l.MaxAge) {
		logger.Debug("using cached owned catalog",
			logging.Int("apps", len(cached.Catalog)),
			logging.Duration("age", now().Sub(cached.FetchedAt)))
		return cached.Catalog, nil
	}

	catalog, err := l.Source.OwnedApps(ctx)
	if err != nil {
		if haveCache && ctx.Err() == nil {
			logging.WarnWithContext(logger, "owned catalog fetch failed, using stale cache", "owned_fetch_failed",
				logging.Error(err),
				logging.Duration("age", now().Sub(cached.FetchedAt)),
				logging.String(logging.FieldErrorHint, "check registrar credentials"),
				logging.String(logging.FieldImpact, "recently bought titles may not be skipped"))
			return cached.Catalog, nil
		}
		return nil, fmt.Errorf("fetch owned catalog: %w", err)
	}
	if l.Store != nil {
		if err := l.Store.Save(ctx, Snapshot{Catalog: catalog, FetchedAt: now()}); err != nil {
			logging.WarnWithContext(logger, "failed to cache owned catalog", "owned_cache_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check cache_dir permissions"),
				logging.String(logging.FieldImpact, "next run refetches the catalog"))
		}
	}
	logger.Info("owned catalog loaded", logging.Int("apps", len(catalog)))
	return catalog, nil
}
