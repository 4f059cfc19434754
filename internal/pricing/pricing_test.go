package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dahabpos/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleSnapshot() domain.PriceSnapshot {
	return domain.PriceSnapshot{
		Gold: map[domain.Karat]decimal.Decimal{
			domain.Karat24: dec("24.500"),
			domain.Karat21: dec("21.400"),
		},
		Flat: map[domain.MetalType]decimal.Decimal{domain.MetalSilver: dec("0.320")},
	}
}

func TestRateForIsZeroBeforeFirstSnapshot(t *testing.T) {
	c := NewCatalog()
	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat24).IsZero())
	assert.True(t, c.LastUpdated().IsZero())
	_, ok := c.Snapshot()
	assert.False(t, ok)
}

func TestRateForResolvesKaratAndFlatRates(t *testing.T) {
	c := NewCatalog()
	c.Replace(sampleSnapshot())

	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat21).Equal(dec("21.4")))
	assert.True(t, c.RateFor(domain.MetalSilver, "").Equal(dec("0.32")))
	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat18).IsZero())
	assert.True(t, c.RateFor(domain.MetalDiamond, "").IsZero())
	assert.False(t, c.LastUpdated().IsZero())
}

func TestReplaceSupersedesWithoutMerging(t *testing.T) {
	c := NewCatalog()
	c.Replace(sampleSnapshot())
	c.Replace(domain.PriceSnapshot{
		Gold: map[domain.Karat]decimal.Decimal{domain.Karat18: dec("18.100")},
	})

	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat24).IsZero())
	assert.True(t, c.RateFor(domain.MetalSilver, "").IsZero())
	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat18).Equal(dec("18.1")))
}

func TestReplaceCopiesInput(t *testing.T) {
	c := NewCatalog()
	snapshot := sampleSnapshot()
	c.Replace(snapshot)
	snapshot.Gold[domain.Karat24] = dec("99")

	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat24).Equal(dec("24.5")))
}

func TestCatalogConcurrentReadersAndWriter(t *testing.T) {
	c := NewCatalog()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.RateFor(domain.MetalGold, domain.Karat24)
			}
		}()
	}
	for j := 0; j < 50; j++ {
		c.Replace(sampleSnapshot())
	}
	wg.Wait()
	assert.True(t, c.RateFor(domain.MetalGold, domain.Karat24).Equal(dec("24.5")))
}

func TestPollerFetchDecodesContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Gold":{"24K":24.61,"22K":22.56,"21K":21.53,"18K":18.46},"Silver":0.33}`))
	}))
	defer srv.Close()

	snapshot, err := NewPoller(srv.URL, time.Minute, srv.Client(), nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.Gold[domain.Karat22].Equal(dec("22.56")))
	assert.True(t, snapshot.Flat[domain.MetalSilver].Equal(dec("0.33")))
}

func TestPollerFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPoller(srv.URL, time.Minute, srv.Client(), nil).Fetch(context.Background())
	assert.Error(t, err)
}

func TestPollerRunDeliversFirstSnapshotImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Gold":{"24K":24.5},"Silver":0.3}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.PriceSnapshot, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewPoller(srv.URL, time.Hour, srv.Client(), nil).Run(ctx, func(s domain.PriceSnapshot) {
			select {
			case got <- s:
			default:
			}
		})
	}()

	select {
	case s := <-got:
		assert.True(t, s.Gold[domain.Karat24].Equal(dec("24.5")))
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not deliver a snapshot")
	}
	cancel()
	assert.NoError(t, <-done)
}

type recordingCache struct {
	mu        sync.Mutex
	saved     []domain.PriceSnapshot
	published []domain.PriceSnapshot
	stored    *domain.PriceSnapshot
}

func (c *recordingCache) Load(context.Context) (*domain.PriceSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored, c.stored != nil, nil
}

func (c *recordingCache) Save(_ context.Context, s domain.PriceSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, s)
	return nil
}

func (c *recordingCache) Publish(_ context.Context, s domain.PriceSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, s)
	return nil
}

func (c *recordingCache) Subscribe(ctx context.Context, _ func(domain.PriceSnapshot)) error {
	<-ctx.Done()
	return nil
}

func TestFeedPushReplacesPersistsAndPublishes(t *testing.T) {
	rc := &recordingCache{}
	feed := NewFeed(NewCatalog(), rc, nil, nil)

	applied, err := feed.Push(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	assert.False(t, applied.UpdatedAt.IsZero())
	assert.True(t, feed.Catalog().RateFor(domain.MetalGold, domain.Karat24).Equal(dec("24.5")))
	assert.Len(t, rc.saved, 1)
	assert.Len(t, rc.published, 1)
}

func TestFeedWarmLoadsCachedSnapshot(t *testing.T) {
	snapshot := sampleSnapshot()
	snapshot.UpdatedAt = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	feed := NewFeed(NewCatalog(), &recordingCache{stored: &snapshot}, nil, nil)

	require.NoError(t, feed.Warm(context.Background()))
	assert.Equal(t, snapshot.UpdatedAt, feed.Catalog().LastUpdated())
}

func TestFeedRunStopsWithContext(t *testing.T) {
	feed := NewFeed(NewCatalog(), nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, feed.Run(ctx))
}

// droppedCache fails every subscription attempt, as when redis goes away
// after the startup ping.
type droppedCache struct {
	recordingCache
	attempts atomic.Int32
}

func (c *droppedCache) Subscribe(context.Context, func(domain.PriceSnapshot)) error {
	c.attempts.Add(1)
	return errors.New("subscribe: connection refused")
}

func TestFeedRunKeepsPollingWhenSubscriptionFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"Gold":{"24K":24.5},"Silver":0.3}`))
	}))
	defer srv.Close()

	dc := &droppedCache{}
	feed := NewFeed(NewCatalog(), dc, NewPoller(srv.URL, 10*time.Millisecond, srv.Client(), nil), nil)
	feed.retryMin = time.Millisecond
	feed.retryMax = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool {
		return hits.Load() >= 3 && dc.attempts.Load() >= 2
	}, 3*time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}
	assert.True(t, feed.Catalog().RateFor(domain.MetalGold, domain.Karat24).Equal(dec("24.5")))

	cancel()
	assert.NoError(t, <-done)
}
