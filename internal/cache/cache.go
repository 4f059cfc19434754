package cache

import (
	"context"

	"dahabpos/backend/internal/domain"
)

// SnapshotCache keeps the latest price snapshot across restarts and fans new
// snapshots out to every running instance.
type SnapshotCache interface {
	Load(ctx context.Context) (*domain.PriceSnapshot, bool, error)
	Save(ctx context.Context, snapshot domain.PriceSnapshot) error
	Publish(ctx context.Context, snapshot domain.PriceSnapshot) error
	// Subscribe blocks, calling fn for each pushed snapshot, until ctx ends.
	Subscribe(ctx context.Context, fn func(domain.PriceSnapshot)) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Load(_ context.Context) (*domain.PriceSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Save(_ context.Context, _ domain.PriceSnapshot) error {
	return nil
}

func (NoopSnapshotCache) Publish(_ context.Context, _ domain.PriceSnapshot) error {
	return nil
}

func (NoopSnapshotCache) Subscribe(ctx context.Context, _ func(domain.PriceSnapshot)) error {
	<-ctx.Done()
	return nil
}
