package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dahabpos/backend/internal/domain"
)

const DefaultPollInterval = 5 * time.Minute

// Poller pulls the rates endpoint of the external feed on a fixed interval.
type Poller struct {
	client   *http.Client
	url      string
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(url string, interval time.Duration, client *http.Client, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{client: client, url: url, interval: interval, logger: logger}
}

func (p *Poller) Fetch(ctx context.Context) (domain.PriceSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.PriceSnapshot{}, fmt.Errorf("rates feed returned %s", resp.Status)
	}

	var snapshot domain.PriceSnapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&snapshot); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("decode rates: %w", err)
	}
	return snapshot, nil
}

// Run fetches immediately and then every interval until ctx ends. Failed
// fetches are logged and leave the previous snapshot in place.
func (p *Poller) Run(ctx context.Context, onSnapshot func(domain.PriceSnapshot)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		snapshot, err := p.Fetch(ctx)
		switch {
		case err == nil:
			onSnapshot(snapshot)
		case ctx.Err() != nil:
			return nil
		default:
			p.logger.Warn("price poll failed", zap.String("url", p.url), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
