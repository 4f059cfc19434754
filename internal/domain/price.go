package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one full set of market rates per gram. A newer snapshot
// replaces the previous one entirely.
type PriceSnapshot struct {
	Gold      map[Karat]decimal.Decimal
	Flat      map[MetalType]decimal.Decimal
	UpdatedAt time.Time
}

// Rate returns the per-gram rate for metal and karat, or false when the
// snapshot carries none.
func (p PriceSnapshot) Rate(metal MetalType, karat Karat) (decimal.Decimal, bool) {
	if metal == MetalGold {
		rate, ok := p.Gold[karat]
		return rate, ok
	}
	rate, ok := p.Flat[metal]
	return rate, ok
}

// MarshalJSON writes the feed contract:
// {"Gold":{"24K":n,...},"Silver":n,"Platinum":n,"updated_at":ts}.
func (p PriceSnapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Flat)+2)
	gold := make(map[string]decimal.Decimal, len(p.Gold))
	for karat, rate := range p.Gold {
		gold[string(karat)] = rate
	}
	out[string(MetalGold)] = gold
	for metal, rate := range p.Flat {
		out[string(metal)] = rate
	}
	if !p.UpdatedAt.IsZero() {
		out["updated_at"] = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

func (p *PriceSnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	snapshot := PriceSnapshot{
		Gold: make(map[Karat]decimal.Decimal, len(GoldKarats)),
		Flat: make(map[MetalType]decimal.Decimal, 2),
	}
	for key, value := range raw {
		switch key {
		case string(MetalGold):
			var gold map[string]decimal.Decimal
			if err := json.Unmarshal(value, &gold); err != nil {
				return fmt.Errorf("gold rates: %w", err)
			}
			for karat, rate := range gold {
				k := Karat(karat)
				if !k.Valid() {
					continue
				}
				if rate.IsNegative() {
					return fmt.Errorf("gold %s rate is negative", karat)
				}
				snapshot.Gold[k] = rate
			}
		case string(MetalSilver), string(MetalPlatinum):
			var rate decimal.Decimal
			if err := json.Unmarshal(value, &rate); err != nil {
				return fmt.Errorf("%s rate: %w", key, err)
			}
			if rate.IsNegative() {
				return fmt.Errorf("%s rate is negative", key)
			}
			snapshot.Flat[MetalType(key)] = rate
		case "updated_at":
			var at time.Time
			if err := json.Unmarshal(value, &at); err != nil {
				return fmt.Errorf("updated_at: %w", err)
			}
			snapshot.UpdatedAt = at.UTC()
		}
	}

	*p = snapshot
	return nil
}
