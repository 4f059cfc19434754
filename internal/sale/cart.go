// Package sale holds the in-progress sale (cart and payment splits) and the
// committer that turns it into an invoice.
package sale

import (
	"github.com/shopspring/decimal"

	"dahabpos/backend/internal/domain"
)

// RateSource resolves a per-gram market rate; zero means unpriced.
type RateSource interface {
	RateFor(metal domain.MetalType, karat domain.Karat) decimal.Decimal
}

type Line struct {
	ItemID       string           `json:"item_id"`
	Barcode      string           `json:"barcode"`
	Name         string           `json:"name"`
	MetalType    domain.MetalType `json:"metal_type"`
	Karat        domain.Karat     `json:"karat,omitempty"`
	WeightGrams  decimal.Decimal  `json:"weight_grams"`
	PricePerGram decimal.Decimal  `json:"price_per_gram"`
	LaborCharge  decimal.Decimal  `json:"labor_charge"`
	LineTotal    decimal.Decimal  `json:"line_total"`
}

func (l *Line) recompute() {
	l.LineTotal = domain.LineTotal(l.WeightGrams, l.PricePerGram, l.LaborCharge)
}

func (l Line) snapshot() domain.InvoiceLine {
	return domain.InvoiceLine{
		ItemID:       l.ItemID,
		Barcode:      l.Barcode,
		Description:  l.Name,
		MetalType:    l.MetalType,
		Karat:        l.Karat,
		WeightGrams:  l.WeightGrams,
		PricePerGram: l.PricePerGram,
		LaborCharge:  l.LaborCharge,
		LineTotal:    l.LineTotal,
	}
}

type Field string

const (
	FieldPricePerGram Field = "price_per_gram"
	FieldLaborCharge  Field = "labor_charge"
)

// Cart is the uncommitted selection of unique items for one sale in one
// branch. It is not safe for concurrent use.
type Cart struct {
	branchID string
	rates    RateSource
	lines    []Line
}

func NewCart(branchID string, rates RateSource) *Cart {
	return &Cart{branchID: branchID, rates: rates}
}

func (c *Cart) BranchID() string {
	return c.branchID
}

func (c *Cart) indexOf(itemID string) int {
	for i := range c.lines {
		if c.lines[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// AddItem appends a line priced at the current market rate with no labor.
// Sold items are rejected here as an early hint; the binding check happens
// at commit.
func (c *Cart) AddItem(item domain.InventoryItem) (Line, error) {
	if c.indexOf(item.ID) < 0 && item.Status != domain.ItemInStock {
		return Line{}, domain.ItemAlreadySold(item.ID)
	}
	return c.Stage(item)
}

// Stage is AddItem without the in-stock hint. One-shot sales use it so that
// payment problems are reported before a sold item, which CommitSale reports.
func (c *Cart) Stage(item domain.InventoryItem) (Line, error) {
	if c.indexOf(item.ID) >= 0 {
		return Line{}, domain.DuplicateItem(item.ID)
	}
	if item.BranchID != c.branchID {
		return Line{}, domain.PermissionDenied("item %s belongs to another branch", item.ID)
	}

	rate := decimal.Zero
	if c.rates != nil {
		rate = c.rates.RateFor(item.MetalType, item.Karat)
	}
	line := Line{
		ItemID:       item.ID,
		Barcode:      item.Barcode,
		Name:         item.Name,
		MetalType:    item.MetalType,
		Karat:        item.Karat,
		WeightGrams:  item.WeightGrams,
		PricePerGram: rate,
		LaborCharge:  decimal.Zero,
	}
	line.recompute()
	c.lines = append(c.lines, line)
	return line, nil
}

// UpdateLine overrides price per gram or the flat labor charge of a line.
func (c *Cart) UpdateLine(itemID string, field Field, value decimal.Decimal) (Line, error) {
	idx := c.indexOf(itemID)
	if idx < 0 {
		return Line{}, domain.NotFound("cart line " + itemID)
	}
	if value.IsNegative() {
		return Line{}, domain.InvalidInput("%s must not be negative", field)
	}

	line := &c.lines[idx]
	switch field {
	case FieldPricePerGram:
		line.PricePerGram = value
	case FieldLaborCharge:
		line.LaborCharge = value
	default:
		return Line{}, domain.InvalidInput("unknown cart field %q", field)
	}
	line.recompute()
	return *line, nil
}

func (c *Cart) RemoveItem(itemID string) error {
	idx := c.indexOf(itemID)
	if idx < 0 {
		return domain.NotFound("cart line " + itemID)
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	return nil
}

func (c *Cart) Lines() []Line {
	return append([]Line(nil), c.lines...)
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// GrandTotal sums the unrounded line amounts and rounds once to fils, so it
// can differ by a fils from the sum of the displayed line totals.
func (c *Cart) GrandTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(domain.LineAmount(line.WeightGrams, line.PricePerGram, line.LaborCharge))
	}
	return domain.RoundFils(total)
}

func (c *Cart) Reset() {
	c.lines = nil
}
