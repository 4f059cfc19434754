package pricing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dahabpos/backend/internal/cache"
	"dahabpos/backend/internal/domain"
)

// Feed keeps a Catalog current from the poller, the push channel and manual
// rate updates. Every path replaces the snapshot wholesale.
type Feed struct {
	catalog *Catalog
	cache   cache.SnapshotCache
	poller  *Poller
	logger  *zap.Logger
	now     func() time.Time

	retryMin time.Duration
	retryMax time.Duration
}

func NewFeed(catalog *Catalog, snapshots cache.SnapshotCache, poller *Poller, logger *zap.Logger) *Feed {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		catalog:  catalog,
		cache:    snapshots,
		poller:   poller,
		logger:   logger,
		now:      time.Now,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
	}
}

func (f *Feed) Catalog() *Catalog {
	return f.catalog
}

// Warm loads the last persisted snapshot so a restarted instance is priced
// before the first poll or push.
func (f *Feed) Warm(ctx context.Context) error {
	snapshot, ok, err := f.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cached rates: %w", err)
	}
	if ok {
		f.catalog.Replace(*snapshot)
		f.logger.Info("rates warmed from cache", zap.Time("updated_at", snapshot.UpdatedAt))
	}
	return nil
}

// Push applies a manual snapshot locally, persists it and broadcasts it.
func (f *Feed) Push(ctx context.Context, snapshot domain.PriceSnapshot) (domain.PriceSnapshot, error) {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = f.now().UTC()
	}
	f.catalog.Replace(snapshot)
	if err := f.cache.Save(ctx, snapshot); err != nil {
		return snapshot, fmt.Errorf("persist rates: %w", err)
	}
	if err := f.cache.Publish(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

func (f *Feed) accept(ctx context.Context, snapshot domain.PriceSnapshot) {
	f.catalog.Replace(snapshot)
	if err := f.cache.Save(ctx, snapshot); err != nil {
		f.logger.Warn("failed to persist polled rates", zap.Error(err))
	}
}

// Run drives the poller (when configured) and the push subscription until
// ctx ends. A failed subscription is retried with backoff and never stops the
// poller.
func (f *Feed) Run(ctx context.Context) error {
	var g errgroup.Group

	if f.poller != nil {
		g.Go(func() error {
			return f.poller.Run(ctx, func(snapshot domain.PriceSnapshot) {
				f.accept(ctx, snapshot)
			})
		})
	}
	g.Go(func() error {
		f.subscribe(ctx)
		return nil
	})

	return g.Wait()
}

func (f *Feed) subscribe(ctx context.Context) {
	backoff := f.retryMin
	for {
		err := f.cache.Subscribe(ctx, f.catalog.Replace)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.logger.Warn("rate subscription failed", zap.Error(err), zap.Duration("retry_in", backoff))
		} else {
			f.logger.Warn("rate subscription closed", zap.Duration("retry_in", backoff))
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, f.retryMax)
	}
}
