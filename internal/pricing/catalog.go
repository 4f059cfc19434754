// Package pricing resolves per-gram market rates from the latest snapshot
// delivered by the external price feed.
package pricing

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"dahabpos/backend/internal/domain"
)

// Catalog holds the process-wide latest snapshot. Lookups never block writers.
type Catalog struct {
	current atomic.Pointer[domain.PriceSnapshot]
	now     func() time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{now: time.Now}
}

// RateFor returns the per-gram rate, or zero when no snapshot has arrived or
// the snapshot has no rate for metal and karat. Zero means unpriced.
func (c *Catalog) RateFor(metal domain.MetalType, karat domain.Karat) decimal.Decimal {
	snapshot := c.current.Load()
	if snapshot == nil {
		return decimal.Zero
	}
	rate, ok := snapshot.Rate(metal, karat)
	if !ok {
		return decimal.Zero
	}
	return rate
}

// Replace supersedes the current snapshot wholesale.
func (c *Catalog) Replace(snapshot domain.PriceSnapshot) {
	next := domain.PriceSnapshot{
		Gold:      make(map[domain.Karat]decimal.Decimal, len(snapshot.Gold)),
		Flat:      make(map[domain.MetalType]decimal.Decimal, len(snapshot.Flat)),
		UpdatedAt: snapshot.UpdatedAt,
	}
	for karat, rate := range snapshot.Gold {
		next.Gold[karat] = rate
	}
	for metal, rate := range snapshot.Flat {
		next.Flat[metal] = rate
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = c.now().UTC()
	}
	c.current.Store(&next)
}

func (c *Catalog) Snapshot() (domain.PriceSnapshot, bool) {
	snapshot := c.current.Load()
	if snapshot == nil {
		return domain.PriceSnapshot{}, false
	}
	return *snapshot, true
}

// LastUpdated is zero until the first snapshot arrives.
func (c *Catalog) LastUpdated() time.Time {
	snapshot := c.current.Load()
	if snapshot == nil {
		return time.Time{}
	}
	return snapshot.UpdatedAt
}
