package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindEmptyCart        ErrorKind = "empty_cart"
	KindDuplicateItem    ErrorKind = "duplicate_item"
	KindPaymentMismatch  ErrorKind = "payment_mismatch"
	KindItemAlreadySold  ErrorKind = "item_already_sold"
	KindBranchNotEmpty   ErrorKind = "branch_not_empty"
	KindCustomerRequired ErrorKind = "customer_required"
	KindUnpricedItem     ErrorKind = "unpriced_item"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindConflict         ErrorKind = "conflict"
)

// Error is a recoverable business failure carrying a machine-readable kind.
// errors.Is matches any *Error of the same kind, so the Err* values below work
// as sentinels regardless of message or payload.
type Error struct {
	Kind    ErrorKind
	Message string
	ItemID  string
	Balance *decimal.Decimal
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrEmptyCart        = &Error{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrDuplicateItem    = &Error{Kind: KindDuplicateItem, Message: "item already in cart"}
	ErrPaymentMismatch  = &Error{Kind: KindPaymentMismatch, Message: "payments do not cover the total"}
	ErrItemAlreadySold  = &Error{Kind: KindItemAlreadySold, Message: "item already sold"}
	ErrBranchNotEmpty   = &Error{Kind: KindBranchNotEmpty, Message: "branch still has staff or inventory"}
	ErrCustomerRequired = &Error{Kind: KindCustomerRequired, Message: "customer is required"}
	ErrUnpricedItem     = &Error{Kind: KindUnpricedItem, Message: "item has no price"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
)

func PermissionDenied(format string, args ...any) error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func DuplicateItem(itemID string) error {
	return &Error{Kind: KindDuplicateItem, Message: fmt.Sprintf("item %s already in cart", itemID), ItemID: itemID}
}

// PaymentMismatch carries the signed balance: positive means underpaid.
func PaymentMismatch(balance decimal.Decimal) error {
	b := RoundFils(balance)
	return &Error{Kind: KindPaymentMismatch, Message: fmt.Sprintf("payment balance %s remaining", b.StringFixed(FilsPlaces)), Balance: &b}
}

func ItemAlreadySold(itemID string) error {
	return &Error{Kind: KindItemAlreadySold, Message: fmt.Sprintf("item %s is no longer in stock", itemID), ItemID: itemID}
}

func BranchNotEmpty(branchID string, staff int, items int) error {
	return &Error{Kind: KindBranchNotEmpty, Message: fmt.Sprintf("branch %s has %d staff and %d inventory items", branchID, staff, items)}
}

func UnpricedItem(itemID string) error {
	return &Error{Kind: KindUnpricedItem, Message: fmt.Sprintf("item %s has no price per gram", itemID), ItemID: itemID}
}

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
