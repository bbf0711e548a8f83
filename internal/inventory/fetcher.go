package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
	"keyredeem/internal/services"
)

// Source lists the account's orders with entitlement details.
type Source interface {
	FetchInventory(ctx context.Context) ([]keys.RawOrder, error)
}

// Fetcher runs Source in a background worker.
type Fetcher struct {
	Source  Source
	Cache   *Cache
	Timeout time.Duration
	// PollInterval is how often the waiting caller logs liveness.
	PollInterval time.Duration
	Logger       *slog.Logger
}

type fetchResult struct {
	orders []keys.RawOrder
	err    error
}

// Fetch returns the order list, from the cache unless refresh is set. A
// fetch that outlives Timeout fails with ErrTransient; cancelling ctx stops
// the worker and returns ctx.Err().
func (f *Fetcher) Fetch(ctx context.Context, refresh bool) ([]keys.RawOrder, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(f.Logger, "inventory"))

	if !refresh {
		orders, fetchedAt, ok, err := f.Cache.Load()
		if err != nil {
			logging.WarnWithContext(logger, "order cache unreadable", "order_cache_invalid",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the cache will be rewritten after this fetch"),
				logging.String(logging.FieldImpact, "orders are fetched from the storefront"))
		}
		if ok {
			logger.Info("using cached orders",
				logging.Int("orders", len(orders)),
				logging.Duration("age", time.Since(fetchedAt).Round(time.Second)))
			return orders, nil
		}
	}

	workCtx, cancel := context.WithCancel(ctx)
	if f.Timeout > 0 {
		workCtx, cancel = context.WithTimeout(ctx, f.Timeout)
	}
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		orders, err := f.Source.FetchInventory(workCtx)
		done <- fetchResult{orders: orders, err: err}
	}()

	poll := f.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case res := <-done:
			return f.finish(ctx, workCtx, logger, res, started)
		case <-ticker.C:
			logger.Info("still fetching orders", logging.Duration("elapsed", time.Since(started).Round(time.Second)))
		case <-ctx.Done():
			cancel()
			// The worker only touches its own result; wait so it never
			// outlives the caller.
			<-done
			return nil, ctx.Err()
		}
	}
}

func (f *Fetcher) finish(ctx, workCtx context.Context, logger *slog.Logger, res fetchResult, started time.Time) ([]keys.RawOrder, error) {
	if res.err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(workCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTransient, "inventory", "fetch",
				fmt.Sprintf("timed out after %s", f.Timeout), res.err)
		}
		return nil, res.err
	}
	logger.Info("fetched orders",
		logging.Int("orders", len(res.orders)),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)))
	if err := f.Cache.Save(res.orders); err != nil {
		logging.WarnWithContext(logger, "order cache not saved", "order_cache_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.cache_dir permissions"),
			logging.String(logging.FieldImpact, "the next run fetches orders again"))
	}
	return res.orders, nil
}
