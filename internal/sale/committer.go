package sale

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dahabpos/backend/internal/access"
	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/session"
	"dahabpos/backend/internal/store"
	"dahabpos/backend/internal/xid"
)

// Ledger is the durable side of a commit. CommitSale must flip every listed
// item from in_stock to sold and insert the invoice in one atomic step,
// returning an ItemAlreadySold error naming the first item that could not be
// flipped, and store.ErrConflict when the idempotency key is already used.
type Ledger interface {
	CommitSale(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error)
}

type CommitRequest struct {
	Session        session.Context
	BranchID       string
	Customer       *domain.Customer
	Cart           *Cart
	Payments       *Payments
	IdempotencyKey string
}

type CommitResult struct {
	Invoice   domain.Invoice
	Duplicate bool
}

type Committer struct {
	ledger Ledger
	now    func() time.Time
}

func NewCommitter(ledger Ledger) *Committer {
	return &Committer{ledger: ledger, now: time.Now}
}

// Commit checks, in order: sales permission for the branch, a non-empty cart,
// settled payments, a customer visible to the branch, priced lines, and then
// runs the atomic flip. Cart and payments are cleared only on success.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.Cart == nil || req.Payments == nil {
		return CommitResult{}, domain.InvalidInput("cart and payments are required")
	}
	actor := req.Session.Actor
	branchID := strings.TrimSpace(req.BranchID)

	if !access.CanWriteSales(actor, branchID) || req.Cart.BranchID() != branchID {
		return CommitResult{}, domain.PermissionDenied("%s may not sell in branch %s", actor.Username, branchID)
	}
	if req.Cart.Len() == 0 {
		return CommitResult{}, domain.ErrEmptyCart
	}
	total := req.Cart.GrandTotal()
	if !req.Payments.IsSettled(total) {
		return CommitResult{}, domain.PaymentMismatch(req.Payments.Balance(total))
	}
	if req.Customer == nil || req.Customer.ID == "" {
		return CommitResult{}, domain.ErrCustomerRequired
	}
	if req.Customer.BranchID != "" && req.Customer.BranchID != branchID {
		return CommitResult{}, domain.PermissionDenied("customer %s belongs to another branch", req.Customer.ID)
	}

	lines := req.Cart.Lines()
	for _, line := range lines {
		if !line.PricePerGram.IsPositive() {
			return CommitResult{}, domain.UnpricedItem(line.ItemID)
		}
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := c.existing(ctx, key, branchID)
		if err != nil {
			return CommitResult{}, err
		}
		if existing != nil {
			if InvoiceFingerprint(*existing) != requestFingerprint(req) {
				return CommitResult{}, domain.Conflict("idempotency key %s was used for a different sale", key)
			}
			req.Cart.Reset()
			req.Payments.Reset()
			return CommitResult{Invoice: *existing, Duplicate: true}, nil
		}
	}

	invoice := domain.Invoice{
		ID:             xid.New("inv"),
		BranchID:       branchID,
		CustomerID:     req.Customer.ID,
		Lines:          make([]domain.InvoiceLine, 0, len(lines)),
		Payments:       req.Payments.Splits(),
		Total:          total,
		IdempotencyKey: key,
		CreatedBy:      actor.ID,
		CreatedAt:      c.now().UTC(),
	}
	for _, line := range lines {
		invoice.Lines = append(invoice.Lines, line.snapshot())
	}

	created, err := c.ledger.CommitSale(ctx, invoice)
	if err != nil {
		if key != "" && errors.Is(err, store.ErrConflict) {
			// A concurrent retry with the same key won the race.
			if existing, lookupErr := c.existing(ctx, key, branchID); lookupErr == nil && existing != nil && InvoiceFingerprint(*existing) == requestFingerprint(req) {
				req.Cart.Reset()
				req.Payments.Reset()
				return CommitResult{Invoice: *existing, Duplicate: true}, nil
			}
		}
		return CommitResult{}, err
	}

	req.Cart.Reset()
	req.Payments.Reset()
	return CommitResult{Invoice: *created}, nil
}

func (c *Committer) existing(ctx context.Context, key string, branchID string) (*domain.Invoice, error) {
	invoice, err := c.ledger.FindInvoiceByIdempotency(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if invoice.BranchID != branchID {
		return nil, domain.Conflict("idempotency key %s was used in another branch", key)
	}
	return invoice, nil
}

// Fingerprint identifies a sale by customer, item set and amount paid, so a
// retried key can be told apart from a key reused for another sale.
func Fingerprint(customerID string, itemIDs []string, paid decimal.Decimal) string {
	ids := slices.Clone(itemIDs)
	slices.Sort(ids)
	return customerID + "|" + strings.Join(ids, ",") + "|" + domain.RoundFils(paid).StringFixed(domain.FilsPlaces)
}

func InvoiceFingerprint(invoice domain.Invoice) string {
	ids := make([]string, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		ids = append(ids, line.ItemID)
	}
	paid := decimal.Zero
	for _, split := range invoice.Payments {
		paid = paid.Add(split.Amount)
	}
	return Fingerprint(invoice.CustomerID, ids, paid)
}

func requestFingerprint(req CommitRequest) string {
	ids := make([]string, 0, req.Cart.Len())
	for _, line := range req.Cart.lines {
		ids = append(ids, line.ItemID)
	}
	customerID := ""
	if req.Customer != nil {
		customerID = req.Customer.ID
	}
	return Fingerprint(customerID, ids, req.Payments.TotalPaid())
}
