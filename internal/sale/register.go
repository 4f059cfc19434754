package sale

import (
	"context"

	"github.com/shopspring/decimal"

	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/session"
)

// Register is one operator's point of sale: the branch selection, the cart,
// the payment splits and the chosen customer. Switching branch clears all
// branch-scoped state instead of reloading anything.
type Register struct {
	branch   *session.BranchContext
	rates    RateSource
	cart     *Cart
	payments *Payments
	customer *domain.Customer
}

func NewRegister(branch *session.BranchContext, rates RateSource) *Register {
	r := &Register{
		branch:   branch,
		rates:    rates,
		cart:     NewCart(branch.Active(), rates),
		payments: NewPayments(),
	}
	branch.OnChange(func(_ string, next string) {
		r.cart = NewCart(next, r.rates)
		r.payments.Reset()
		r.customer = nil
	})
	return r
}

func (r *Register) Cart() *Cart {
	return r.cart
}

func (r *Register) Payments() *Payments {
	return r.payments
}

// SelectBranch switches the active branch through the branch context.
func (r *Register) SelectBranch(branchID string) error {
	return r.branch.Select(branchID)
}

// SetCustomer attaches a customer visible from the active branch.
func (r *Register) SetCustomer(customer domain.Customer) error {
	if customer.BranchID != "" && customer.BranchID != r.branch.Active() {
		return domain.PermissionDenied("customer %s belongs to another branch", customer.ID)
	}
	r.customer = &customer
	return nil
}

func (r *Register) Customer() *domain.Customer {
	return r.customer
}

func (r *Register) GrandTotal() decimal.Decimal {
	return r.cart.GrandTotal()
}

func (r *Register) Balance() decimal.Decimal {
	return r.payments.Balance(r.cart.GrandTotal())
}

func (r *Register) IsSettled() bool {
	return r.payments.IsSettled(r.cart.GrandTotal())
}

// Checkout commits the current sale. The customer is cleared with the cart on
// success; on failure everything stays as it was.
func (r *Register) Checkout(ctx context.Context, committer *Committer, idempotencyKey string) (CommitResult, error) {
	result, err := committer.Commit(ctx, CommitRequest{
		Session:        r.branch.Session(),
		BranchID:       r.branch.Active(),
		Customer:       r.customer,
		Cart:           r.cart,
		Payments:       r.payments,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return CommitResult{}, err
	}
	r.customer = nil
	return result, nil
}
