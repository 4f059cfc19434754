package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dahabpos/backend/internal/access"
	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/session"
	"dahabpos/backend/internal/xid"
)

// OldGoldBuyMargin is taken off the live per-gram rate when the counter buys
// gold back.
var OldGoldBuyMargin = decimal.New(1, 0)

// OldGoldQuote suggests a buying price for karat from the live rate.
func (s *Service) OldGoldQuote(_ context.Context, sess session.Context, karat string) (domain.OldGoldQuote, error) {
	if !access.CanRead(sess.Actor, access.ResourceRates, "") {
		return domain.OldGoldQuote{}, denied(sess.Actor, access.ActionRead, access.ResourceRates, "")
	}
	k, ok := domain.ParseKarat(karat)
	if !ok {
		return domain.OldGoldQuote{}, domain.InvalidInput("karat must be 24, 22, 21 or 18")
	}
	return s.quote(k), nil
}

func (s *Service) quote(k domain.Karat) domain.OldGoldQuote {
	rate := s.catalog.RateFor(domain.MetalGold, k)
	q := domain.OldGoldQuote{Karat: k, MarketRate: rate, PricePerGram: decimal.Zero}
	if price := rate.Sub(OldGoldBuyMargin); price.IsPositive() {
		q.PricePerGram = domain.RoundFils(price)
		q.Priced = true
	}
	return q
}

// RecordOldGoldPurchase books gold bought from a customer in one branch. An
// empty price buys at the quoted rate; the total is always recomputed.
func (s *Service) RecordOldGoldPurchase(ctx context.Context, sess session.Context, req domain.OldGoldPurchaseRequest) (domain.OldGoldPurchase, error) {
	branch, err := sess.Branch(req.BranchID)
	if err != nil {
		return domain.OldGoldPurchase{}, err
	}
	if branch == "" {
		return domain.OldGoldPurchase{}, domain.InvalidInput("branch is required")
	}
	if !access.CanWrite(sess.Actor, access.ResourceOldGold, branch) {
		return domain.OldGoldPurchase{}, denied(sess.Actor, access.ActionWrite, access.ResourceOldGold, branch)
	}
	if _, err := s.repo.GetBranch(ctx, branch); err != nil {
		return domain.OldGoldPurchase{}, storeErr(err, "branch")
	}

	purchase := domain.OldGoldPurchase{
		ID:            xid.New("ogp"),
		BranchID:      branch,
		SellerName:    strings.TrimSpace(req.SellerName),
		SellerCivilID: strings.TrimSpace(req.SellerCivilID),
		SellerPhone:   strings.TrimSpace(req.SellerPhone),
		Description:   strings.TrimSpace(req.Description),
		CreatedBy:     sess.Actor.ID,
		CreatedAt:     s.now().UTC(),
	}
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		customer, err := s.repo.GetCustomer(ctx, id)
		if err != nil {
			return domain.OldGoldPurchase{}, storeErr(err, "customer")
		}
		if customer.BranchID != "" && customer.BranchID != branch {
			return domain.OldGoldPurchase{}, domain.PermissionDenied("customer %s belongs to another branch", id)
		}
		purchase.CustomerID = customer.ID
		if purchase.SellerName == "" {
			purchase.SellerName = customer.FullName
		}
		if purchase.SellerCivilID == "" {
			purchase.SellerCivilID = customer.CivilID
		}
		if purchase.SellerPhone == "" {
			purchase.SellerPhone = customer.Phone
		}
	}
	if purchase.SellerName == "" || purchase.SellerCivilID == "" {
		return domain.OldGoldPurchase{}, domain.InvalidInput("seller name and civil id are required")
	}
	if purchase.Description == "" {
		return domain.OldGoldPurchase{}, domain.InvalidInput("item description is required")
	}

	karat, ok := domain.ParseKarat(req.Karat)
	if !ok {
		return domain.OldGoldPurchase{}, domain.InvalidInput("karat must be 24, 22, 21 or 18")
	}
	purchase.Karat = karat
	if !req.WeightGrams.IsPositive() {
		return domain.OldGoldPurchase{}, domain.InvalidInput("weight must be positive")
	}
	purchase.WeightGrams = domain.RoundFils(req.WeightGrams)

	switch {
	case req.PricePerGram == nil || req.PricePerGram.IsZero():
		q := s.quote(karat)
		if !q.Priced {
			return domain.OldGoldPurchase{}, domain.InvalidInput("no market rate for %s; enter a buying price", karat)
		}
		purchase.PricePerGram = q.PricePerGram
		purchase.AutoPriced = true
	case req.PricePerGram.IsNegative():
		return domain.OldGoldPurchase{}, domain.InvalidInput("buying price must be positive")
	default:
		purchase.PricePerGram = domain.RoundFils(*req.PricePerGram)
	}
	purchase.TotalPaid = domain.RoundFils(purchase.WeightGrams.Mul(purchase.PricePerGram))
	if req.TotalPaid != nil {
		if diff := purchase.TotalPaid.Sub(*req.TotalPaid); diff.Abs().GreaterThan(domain.SettleTolerance) {
			return domain.OldGoldPurchase{}, domain.PaymentMismatch(diff)
		}
	}

	created, err := s.repo.CreateOldGoldPurchase(ctx, purchase)
	if err != nil {
		return domain.OldGoldPurchase{}, storeErr(err, "old gold purchase")
	}
	s.logAudit(ctx, sess, branch, "old_gold_purchase", "old_gold_purchase", created.ID,
		fmt.Sprintf("karat=%s,weight=%s,total=%s", created.Karat, created.WeightGrams.StringFixed(domain.FilsPlaces), created.TotalPaid.StringFixed(domain.FilsPlaces)))
	return *created, nil
}

func (s *Service) ListOldGoldPurchases(ctx context.Context, sess session.Context, branchID string, limit int) ([]domain.OldGoldPurchase, error) {
	branch, err := sess.Branch(branchID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.Actor, access.ResourceOldGold, branch) {
		return nil, denied(sess.Actor, access.ActionRead, access.ResourceOldGold, branch)
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListOldGoldPurchases(ctx, domain.OldGoldFilter{BranchID: branch, Limit: limit})
}
