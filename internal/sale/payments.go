package sale

import (
	"strings"

	"github.com/shopspring/decimal"

	"dahabpos/backend/internal/domain"
)

// Payments collects the payment splits that must cover a cart total.
type Payments struct {
	splits []domain.PaymentSplit
}

func NewPayments() *Payments {
	return &Payments{}
}

// AddSplit records one payment. Amounts must be positive and expressed in
// whole fils.
func (p *Payments) AddSplit(method domain.PaymentMethod, amount decimal.Decimal, reference string) error {
	method = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if !method.Valid() {
		return domain.InvalidInput("unsupported payment method %q", method)
	}
	if !amount.IsPositive() {
		return domain.InvalidInput("payment amount must be positive")
	}
	if !amount.Equal(domain.RoundFils(amount)) {
		return domain.InvalidInput("payment amount %s has more than %d decimals", amount, domain.FilsPlaces)
	}
	p.splits = append(p.splits, domain.PaymentSplit{
		Method:    method,
		Amount:    amount,
		Reference: strings.TrimSpace(reference),
	})
	return nil
}

func (p *Payments) RemoveSplit(index int) error {
	if index < 0 || index >= len(p.splits) {
		return domain.NotFound("payment split")
	}
	p.splits = append(p.splits[:index], p.splits[index+1:]...)
	return nil
}

func (p *Payments) Splits() []domain.PaymentSplit {
	return append([]domain.PaymentSplit(nil), p.splits...)
}

func (p *Payments) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, split := range p.splits {
		total = total.Add(split.Amount)
	}
	return total
}

// Balance is grandTotal minus what has been paid; positive means underpaid.
func (p *Payments) Balance(grandTotal decimal.Decimal) decimal.Decimal {
	return grandTotal.Sub(p.TotalPaid())
}

func (p *Payments) IsSettled(grandTotal decimal.Decimal) bool {
	return p.Balance(grandTotal).Abs().LessThanOrEqual(domain.SettleTolerance)
}

func (p *Payments) Reset() {
	p.splits = nil
}
