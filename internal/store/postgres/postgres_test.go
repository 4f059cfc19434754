package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/store"
)

// listConverter lets []string arguments through to the mock unchanged, the
// way pgx encodes them as arrays.
type listConverter struct{}

func (listConverter) ConvertValue(v any) (driver.Value, error) {
	if list, ok := v.([]string); ok {
		return list, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(listConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func testInvoice() domain.Invoice {
	return domain.Invoice{
		ID:         "inv-1",
		BranchID:   "br-main",
		CustomerID: "cus-1",
		Lines: []domain.InvoiceLine{
			{ItemID: "itm-a", Barcode: "A", Description: "Ring", MetalType: domain.MetalGold, Karat: domain.Karat21,
				WeightGrams: decimal.RequireFromString("5.250"), PricePerGram: decimal.RequireFromString("20"),
				LaborCharge: decimal.Zero, LineTotal: decimal.RequireFromString("105")},
			{ItemID: "itm-b", Barcode: "B", Description: "Chain", MetalType: domain.MetalGold, Karat: domain.Karat18,
				WeightGrams: decimal.RequireFromString("2"), PricePerGram: decimal.RequireFromString("17.5"),
				LaborCharge: decimal.RequireFromString("5"), LineTotal: decimal.RequireFromString("40")},
		},
		Payments: []domain.PaymentSplit{
			{Method: domain.PaymentCash, Amount: decimal.RequireFromString("145")},
		},
		Total:          decimal.RequireFromString("145"),
		IdempotencyKey: "key-1",
		CreatedBy:      "u-sales",
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCommitSaleFlipsItemsInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	inv := testInvoice()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE invoice_counters`).
		WithArgs(invoiceCounterID).
		WillReturnRows(sqlmock.NewRows([]string{"last_number"}).AddRow(int64(42)))
	mock.ExpectExec(`INSERT INTO invoices`).
		WithArgs("inv-1", int64(42), "br-main", "cus-1", inv.Total, "key-1", "u-sales", inv.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE inventory_items\s+SET status = 'sold'`).
		WithArgs([]string{"itm-a", "itm-b"}, "br-main", "inv-1", inv.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("itm-b").AddRow("itm-a"))
	mock.ExpectExec(`INSERT INTO invoice_lines`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO invoice_lines`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO invoice_payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := s.CommitSale(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.Number)
	assert.Len(t, created.Lines, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSaleRollsBackWhenAnItemIsGone(t *testing.T) {
	s, mock := newMockStore(t)
	inv := testInvoice()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE invoice_counters`).
		WillReturnRows(sqlmock.NewRows([]string{"last_number"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO invoices`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE inventory_items\s+SET status = 'sold'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("itm-a"))
	mock.ExpectRollback()

	_, err := s.CommitSale(context.Background(), inv)
	require.ErrorIs(t, err, domain.ErrItemAlreadySold)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "itm-b", derr.ItemID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSaleMapsIdempotencyCollision(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE invoice_counters`).
		WillReturnRows(sqlmock.NewRows([]string{"last_number"}).AddRow(int64(8)))
	mock.ExpectExec(`INSERT INTO invoices`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "invoices_idempotency_key_key"})
	mock.ExpectRollback()

	_, err := s.CommitSale(context.Background(), testInvoice())
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSaleRejectsRepeatedItemsBeforeTouchingTheDatabase(t *testing.T) {
	s, mock := newMockStore(t)
	inv := testInvoice()
	inv.Lines[1].ItemID = inv.Lines[0].ItemID

	_, err := s.CommitSale(context.Background(), inv)
	require.ErrorIs(t, err, store.ErrInvalidInput)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBranchReportsRemainingContents(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_main FROM branches WHERE id = \$1 FOR UPDATE`).
		WithArgs("br-main").
		WillReturnRows(sqlmock.NewRows([]string{"is_main"}).AddRow(true))
	mock.ExpectQuery(`SELECT\s+\(SELECT count\(\*\) FROM staff_users`).
		WithArgs("br-main").
		WillReturnRows(sqlmock.NewRows([]string{"staff", "items"}).AddRow(3, 12))
	mock.ExpectRollback()

	err := s.DeleteBranch(context.Background(), "br-main")
	require.ErrorIs(t, err, domain.ErrBranchNotEmpty)
	assert.Contains(t, err.Error(), "3 staff and 12 inventory items")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMainBranchPromotesOldestRemaining(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_main FROM branches`).
		WillReturnRows(sqlmock.NewRows([]string{"is_main"}).AddRow(true))
	mock.ExpectQuery(`SELECT\s+\(SELECT count\(\*\) FROM staff_users`).
		WillReturnRows(sqlmock.NewRows([]string{"staff", "items"}).AddRow(0, 0))
	mock.ExpectExec(`DELETE FROM branches WHERE id = \$1`).
		WithArgs("br-main").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE branches SET is_main = true`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteBranch(context.Background(), "br-main"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBranchNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_main FROM branches`).
		WillReturnRows(sqlmock.NewRows([]string{"is_main"}))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeleteBranch(context.Background(), "br-missing"), store.ErrNotFound)
}

func TestCreateStaffMapsConstraintErrors(t *testing.T) {
	s, mock := newMockStore(t)
	user := domain.StaffUser{Username: "sales", PasswordHash: "hash", Role: domain.RoleSalesMan, BranchID: "br-main", Active: true}

	mock.ExpectExec(`INSERT INTO staff_users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err := s.CreateStaff(context.Background(), user)
	assert.ErrorIs(t, err, store.ErrConflict)

	mock.ExpectExec(`INSERT INTO staff_users`).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	_, err = s.CreateStaff(context.Background(), user)
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStaffRefusesOwner(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM staff_users WHERE id = \$1 AND role <> 'store_owner'`).
		WithArgs("u-owner").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM staff_users WHERE id = \$1`).
		WithArgs("u-owner").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "full_name", "role", "branch_id", "active", "created_at"}).
			AddRow("u-owner", "owner", "hash", "Owner", "store_owner", "", true, created))

	assert.ErrorIs(t, s.DeleteStaff(context.Background(), "u-owner"), store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSoldInventoryItemConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	soldAt := created.Add(time.Hour)
	columns := []string{"id", "barcode", "name", "metal_type", "karat", "weight_grams", "cost_per_gram", "status", "branch_id", "invoice_id", "sold_at", "created_at"}

	mock.ExpectQuery(`UPDATE inventory_items\s+SET name`).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`FROM inventory_items WHERE id = \$1`).
		WithArgs("itm-a").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("itm-a", "A", "Ring", "Gold", "21K", "5.250", "19.800", "sold", "br-main", "inv-1", soldAt, created))

	_, err := s.UpdateInventoryItem(context.Background(), domain.InventoryItem{
		ID:          "itm-a",
		Name:        "Ring",
		MetalType:   domain.MetalGold,
		Karat:       domain.Karat21,
		WeightGrams: decimal.RequireFromString("5.250"),
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInvoiceLoadsLinesAndPayments(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM invoices\s+WHERE id = \$1`).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "branch_id", "customer_id", "total", "idempotency_key", "created_by", "created_at"}).
			AddRow("inv-1", int64(3), "br-main", "cus-1", "105.000", "key-1", "u-sales", created))
	mock.ExpectQuery(`FROM invoice_lines`).
		WithArgs([]string{"inv-1"}).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_id", "item_id", "barcode", "description", "metal_type", "karat", "weight_grams", "price_per_gram", "labor_charge", "line_total"}).
			AddRow("inv-1", "itm-a", "A", "Ring", "Gold", "21K", "5.250", "20.000", "0.000", "105.000"))
	mock.ExpectQuery(`FROM invoice_payments`).
		WithArgs([]string{"inv-1"}).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_id", "method", "amount", "reference"}).
			AddRow("inv-1", "knet", "105.000", "K-1"))

	inv, err := s.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), inv.Number)
	require.Len(t, inv.Lines, 1)
	assert.True(t, decimal.RequireFromString("105").Equal(inv.Lines[0].LineTotal))
	require.Len(t, inv.Payments, 1)
	assert.Equal(t, domain.PaymentKNET, inv.Payments[0].Method)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`lower\(name\) LIKE \$1 ESCAPE`).
		WithArgs(`%50\%\_off%`, 200).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`lower\(full_name\) LIKE \$1 ESCAPE`).
		WithArgs(`%a\\b%`, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, err := s.ListInventory(context.Background(), domain.InventoryFilter{Search: "50%_OFF"})
	require.NoError(t, err)
	assert.Empty(t, items)

	customers, err := s.ListCustomers(context.Background(), domain.CustomerFilter{Search: `a\b`, Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, customers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOldGoldPurchaseMapsMissingBranch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO old_gold_purchases`).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := s.CreateOldGoldPurchase(context.Background(), domain.OldGoldPurchase{
		BranchID:     "br-gone",
		Karat:        domain.Karat21,
		WeightGrams:  decimal.RequireFromString("2.000"),
		PricePerGram: decimal.RequireFromString("19.000"),
		TotalPaid:    decimal.RequireFromString("38.000"),
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOldGoldPurchasesScansRows(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM old_gold_purchases`).
		WithArgs("br-main", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "branch_id", "customer_id", "seller_name", "seller_civil_id", "seller_phone",
			"description", "karat", "weight_grams", "price_per_gram", "total_paid", "auto_priced", "created_by", "created_at"}).
			AddRow("ogp-1", "br-main", "", "Seller", "290010112345", "", "Broken ring", "21K", "2.000", "19.000", "38.000", true, "u-sales", created))

	purchases, err := s.ListOldGoldPurchases(context.Background(), domain.OldGoldFilter{BranchID: "br-main"})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, domain.Karat21, purchases[0].Karat)
	assert.True(t, decimal.RequireFromString("38").Equal(purchases[0].TotalPaid))
	assert.True(t, purchases[0].AutoPriced)
	require.NoError(t, mock.ExpectationsWereMet())
}
