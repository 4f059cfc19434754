package store

import (
	"context"
	"errors"

	"dahabpos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict covers unique keys (barcode, username, idempotency key) and
	// records that can no longer change, such as sold items.
	ErrConflict = errors.New("conflict")
)

// Repository is the durable state of one tenant. Implementations return the
// sentinels above, plus domain errors for ItemAlreadySold and BranchNotEmpty
// which carry details the caller needs.
type Repository interface {
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	// CreateBranch makes the first branch of a tenant its main branch.
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	// UpdateBranch with IsMain set demotes the previous main branch.
	UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	// DeleteBranch refuses while staff or inventory remain, returns
	// ErrConflict while old gold purchases reference the branch, and takes the
	// branch's own customers with it. Deleting the main branch hands main
	// status to the oldest remaining branch.
	DeleteBranch(ctx context.Context, id string) error

	ListStaff(ctx context.Context, branchID string) ([]domain.StaffUser, error)
	GetStaff(ctx context.Context, id string) (*domain.StaffUser, error)
	GetStaffByUsername(ctx context.Context, username string) (*domain.StaffUser, error)
	CreateStaff(ctx context.Context, user domain.StaffUser) (*domain.StaffUser, error)
	UpdateStaff(ctx context.Context, user domain.StaffUser) (*domain.StaffUser, error)
	DeleteStaff(ctx context.Context, id string) error

	ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	GetInventoryItemByBarcode(ctx context.Context, barcode string) (*domain.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	// UpdateInventoryItem and DeleteInventoryItem only touch in-stock items.
	UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, id string) error

	ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	// CommitSale atomically flips every line item from in_stock to sold and
	// stores the invoice under the next sequential number.
	CommitSale(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)

	// CreateOldGoldPurchase stores a buy-back. Purchases are never deleted and
	// keep their branch and customer from being deleted.
	CreateOldGoldPurchase(ctx context.Context, purchase domain.OldGoldPurchase) (*domain.OldGoldPurchase, error)
	ListOldGoldPurchases(ctx context.Context, filter domain.OldGoldFilter) ([]domain.OldGoldPurchase, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)
}
