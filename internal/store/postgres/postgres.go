package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/store"
	"dahabpos/backend/internal/xid"
)

const invoiceCounterID = 1

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool; the caller keeps ownership of db.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const branchColumns = `id, name, location, phone, is_main, created_at`

func scanBranch(row interface{ Scan(...any) error }) (domain.Branch, error) {
	var b domain.Branch
	if err := row.Scan(&b.ID, &b.Name, &b.Location, &b.Phone, &b.IsMain, &b.CreatedAt); err != nil {
		return domain.Branch{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		ORDER BY is_main DESC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	b, err := scanBranch(s.db.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}

	// The partial unique index on is_main rejects a concurrent second "first" branch.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO branches (id, name, location, phone, is_main, created_at)
		SELECT $1, $2, $3, $4, NOT EXISTS (SELECT 1 FROM branches), $5::timestamptz
		RETURNING is_main
	`, branch.ID, branch.Name, branch.Location, branch.Phone, branch.CreatedAt).Scan(&branch.IsMain)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var wasMain bool
	if err := tx.QueryRowContext(ctx, `SELECT is_main FROM branches WHERE id = $1 FOR UPDATE`, branch.ID).Scan(&wasMain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if wasMain && !branch.IsMain {
		return nil, store.ErrInvalidInput
	}
	if branch.IsMain && !wasMain {
		if _, err := tx.ExecContext(ctx, `UPDATE branches SET is_main = false WHERE is_main`); err != nil {
			return nil, err
		}
	}

	updated, err := scanBranch(tx.QueryRowContext(ctx, `
		UPDATE branches
		SET name = $2, location = $3, phone = $4, is_main = $5
		WHERE id = $1
		RETURNING `+branchColumns,
		branch.ID, branch.Name, branch.Location, branch.Phone, branch.IsMain))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteBranch(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var isMain bool
	if err := tx.QueryRowContext(ctx, `SELECT is_main FROM branches WHERE id = $1 FOR UPDATE`, id).Scan(&isMain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	var staffCount, itemCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM staff_users WHERE branch_id = $1),
			(SELECT count(*) FROM inventory_items WHERE branch_id = $1)
	`, id).Scan(&staffCount, &itemCount); err != nil {
		return err
	}
	if staffCount > 0 || itemCount > 0 {
		return domain.BranchNotEmpty(id, staffCount, itemCount)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, id); err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	if isMain {
		if _, err := tx.ExecContext(ctx, `
			UPDATE branches SET is_main = true
			WHERE id = (SELECT id FROM branches ORDER BY created_at ASC, id ASC LIMIT 1)
		`); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const staffColumns = `id, username, password_hash, full_name, role, COALESCE(branch_id, ''), active, created_at`

func scanStaff(row interface{ Scan(...any) error }) (domain.StaffUser, error) {
	var u domain.StaffUser
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.BranchID, &u.Active, &u.CreatedAt); err != nil {
		return domain.StaffUser{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) ListStaff(ctx context.Context, branchID string) ([]domain.StaffUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+staffColumns+`
		FROM staff_users
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY username ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.StaffUser, 0, 16)
	for rows.Next() {
		u, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetStaff(ctx context.Context, id string) (*domain.StaffUser, error) {
	return s.findStaff(ctx, `id = $1`, id)
}

func (s *Store) GetStaffByUsername(ctx context.Context, username string) (*domain.StaffUser, error) {
	return s.findStaff(ctx, `lower(username) = lower($1)`, username)
}

func (s *Store) findStaff(ctx context.Context, where string, value string) (*domain.StaffUser, error) {
	u, err := scanStaff(s.db.QueryRowContext(ctx, `SELECT `+staffColumns+` FROM staff_users WHERE `+where, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateStaff(ctx context.Context, user domain.StaffUser) (*domain.StaffUser, error) {
	if user.Username == "" || user.PasswordHash == "" || !user.Role.Valid() {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_users (id, username, password_hash, full_name, role, branch_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, user.ID, user.Username, user.PasswordHash, user.FullName, user.Role, nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &user, nil
}

func (s *Store) UpdateStaff(ctx context.Context, user domain.StaffUser) (*domain.StaffUser, error) {
	if !user.Role.Valid() {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanStaff(s.db.QueryRowContext(ctx, `
		UPDATE staff_users
		SET full_name = $2,
			role = $3,
			branch_id = $4,
			active = $5,
			password_hash = COALESCE(NULLIF($6, ''), password_hash)
		WHERE id = $1
		RETURNING `+staffColumns,
		user.ID, user.FullName, user.Role, nullIfEmpty(user.BranchID), user.Active, user.PasswordHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteError(err)
	}
	return &updated, nil
}

func (s *Store) DeleteStaff(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM staff_users WHERE id = $1 AND role <> 'store_owner'`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetStaff(ctx, id); err != nil {
		return err
	}
	return store.ErrConflict
}

const itemColumns = `id, barcode, name, metal_type, karat, weight_grams, cost_per_gram, status, branch_id, COALESCE(invoice_id, ''), sold_at, created_at`

func scanItem(row interface{ Scan(...any) error }) (domain.InventoryItem, error) {
	var it domain.InventoryItem
	var soldAt sql.NullTime
	if err := row.Scan(&it.ID, &it.Barcode, &it.Name, &it.MetalType, &it.Karat, &it.WeightGrams, &it.CostPerGram,
		&it.Status, &it.BranchID, &it.InvoiceID, &soldAt, &it.CreatedAt); err != nil {
		return domain.InventoryItem{}, err
	}
	if soldAt.Valid {
		at := soldAt.Time.UTC()
		it.SoldAt = &at
	}
	it.CreatedAt = it.CreatedAt.UTC()
	return it, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches search literally as a substring, like
// strings.Contains in the memory store.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

func (s *Store) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}

	conds := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.BranchID != "" {
		args = append(args, filter.BranchID)
		conds = append(conds, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, containsPattern(search))
		conds = append(conds, fmt.Sprintf(`(lower(name) LIKE $%d ESCAPE '\' OR lower(barcode) LIKE $%d ESCAPE '\')`, len(args), len(args)))
	}
	args = append(args, limit)

	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY barcode ASC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return s.findItem(ctx, `id = $1`, id)
}

func (s *Store) GetInventoryItemByBarcode(ctx context.Context, barcode string) (*domain.InventoryItem, error) {
	return s.findItem(ctx, `lower(barcode) = lower($1)`, barcode)
}

func (s *Store) findItem(ctx context.Context, where string, value string) (*domain.InventoryItem, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE `+where, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Barcode == "" || item.BranchID == "" || !item.WeightGrams.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Status = domain.ItemInStock
	item.InvoiceID = ""
	item.SoldAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, barcode, name, metal_type, karat, weight_grams, cost_per_gram, status, branch_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.Barcode, item.Name, item.MetalType, item.Karat, item.WeightGrams, item.CostPerGram, item.Status, item.BranchID, item.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &item, nil
}

func (s *Store) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if !item.WeightGrams.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET name = $2, metal_type = $3, karat = $4, weight_grams = $5, cost_per_gram = $6
		WHERE id = $1 AND status = 'in_stock'
		RETURNING `+itemColumns,
		item.ID, item.Name, item.MetalType, item.Karat, item.WeightGrams, item.CostPerGram))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.frozenOrMissing(ctx, item.ID)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteInventoryItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1 AND status = 'in_stock'`, id)
	if err != nil {
		return mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.frozenOrMissing(ctx, id)
	}
	return nil
}

// frozenOrMissing explains why an in-stock-only write touched no row.
func (s *Store) frozenOrMissing(ctx context.Context, id string) error {
	if _, err := s.GetInventoryItem(ctx, id); err != nil {
		return err
	}
	return store.ErrConflict
}

const customerColumns = `id, full_name, phone, civil_id, COALESCE(branch_id, ''), id_image_refs, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (domain.Customer, error) {
	var c domain.Customer
	var refs []byte
	if err := row.Scan(&c.ID, &c.FullName, &c.Phone, &c.CivilID, &c.BranchID, &refs, &c.CreatedAt); err != nil {
		return domain.Customer{}, err
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &c.IDImageRefs); err != nil {
			return domain.Customer{}, fmt.Errorf("decode id image refs: %w", err)
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func encodeRefs(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}

	conds := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.BranchID != "" {
		args = append(args, filter.BranchID)
		if filter.IncludeTenant {
			conds = append(conds, fmt.Sprintf("(branch_id = $%d OR branch_id IS NULL)", len(args)))
		} else {
			conds = append(conds, fmt.Sprintf("branch_id = $%d", len(args)))
		}
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, containsPattern(search))
		n := len(args)
		conds = append(conds, fmt.Sprintf(`(lower(full_name) LIKE $%d ESCAPE '\' OR phone LIKE $%d ESCAPE '\' OR civil_id LIKE $%d ESCAPE '\')`, n, n, n))
	}
	args = append(args, limit)

	query := `SELECT ` + customerColumns + ` FROM customers`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY full_name ASC, id ASC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.FullName) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	refs, err := encodeRefs(customer.IDImageRefs)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (id, full_name, phone, civil_id, branch_id, id_image_refs, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
	`, customer.ID, customer.FullName, customer.Phone, customer.CivilID, nullIfEmpty(customer.BranchID), refs, customer.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.FullName) == "" {
		return nil, store.ErrInvalidInput
	}
	refs, err := encodeRefs(customer.IDImageRefs)
	if err != nil {
		return nil, err
	}

	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET full_name = $2, phone = $3, civil_id = $4, id_image_refs = $5::jsonb
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.FullName, customer.Phone, customer.CivilID, refs))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CommitSale takes the invoice counter row lock first, so commits serialize
// and numbers stay gapless across rollbacks. The conditional UPDATE is the
// binding in-stock check: any item it cannot flip aborts the whole sale.
func (s *Store) CommitSale(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == "" || invoice.BranchID == "" || invoice.CustomerID == "" || len(invoice.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	itemIDs, ok := lineItemIDs(invoice.Lines)
	if !ok {
		return nil, store.ErrInvalidInput
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := pgTx.QueryRowContext(ctx, `
		UPDATE invoice_counters
		SET last_number = last_number + 1
		WHERE id = $1
		RETURNING last_number
	`, invoiceCounterID).Scan(&invoice.Number); err != nil {
		return nil, fmt.Errorf("allocate invoice number: %w", err)
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO invoices (id, number, branch_id, customer_id, total, idempotency_key, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, invoice.ID, invoice.Number, invoice.BranchID, invoice.CustomerID, invoice.Total,
		nullIfEmpty(invoice.IdempotencyKey), invoice.CreatedBy, invoice.CreatedAt); err != nil {
		return nil, mapWriteError(err)
	}

	rows, err := pgTx.QueryContext(ctx, `
		UPDATE inventory_items
		SET status = 'sold', invoice_id = $3, sold_at = $4
		WHERE id = ANY($1) AND branch_id = $2 AND status = 'in_stock'
		RETURNING id
	`, itemIDs, invoice.BranchID, invoice.ID, invoice.CreatedAt)
	if err != nil {
		return nil, err
	}
	flipped := make(map[string]struct{}, len(itemIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		flipped[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	for _, id := range itemIDs {
		if _, ok := flipped[id]; !ok {
			return nil, domain.ItemAlreadySold(id)
		}
	}

	for i, line := range invoice.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_lines (
				invoice_id, line_no, item_id, barcode, description, metal_type, karat,
				weight_grams, price_per_gram, labor_charge, line_total
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, invoice.ID, i+1, line.ItemID, line.Barcode, line.Description, line.MetalType, line.Karat,
			line.WeightGrams, line.PricePerGram, line.LaborCharge, line.LineTotal); err != nil {
			return nil, mapWriteError(err)
		}
	}
	for i, p := range invoice.Payments {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_payments (invoice_id, split_no, method, amount, reference)
			VALUES ($1,$2,$3,$4,$5)
		`, invoice.ID, i+1, p.Method, p.Amount, p.Reference); err != nil {
			return nil, mapWriteError(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := invoice
	created.Lines = append([]domain.InvoiceLine(nil), invoice.Lines...)
	created.Payments = append([]domain.PaymentSplit(nil), invoice.Payments...)
	return &created, nil
}

const invoiceColumns = `id, number, branch_id, customer_id, total, COALESCE(idempotency_key, ''), created_by, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var inv domain.Invoice
	if err := row.Scan(&inv.ID, &inv.Number, &inv.BranchID, &inv.CustomerID, &inv.Total, &inv.IdempotencyKey, &inv.CreatedBy, &inv.CreatedAt); err != nil {
		return domain.Invoice{}, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	return inv, nil
}

func (s *Store) FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "idempotency_key", key)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "id", id)
}

func (s *Store) findInvoice(ctx context.Context, column string, value string) (*domain.Invoice, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	inv, err := scanInvoice(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM invoices
		WHERE %s = $1
	`, invoiceColumns, column), value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	invoices := []domain.Invoice{inv}
	if err := s.loadInvoiceDetails(ctx, invoices); err != nil {
		return nil, err
	}
	return &invoices[0], nil
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY number DESC
		LIMIT $2
	`, filter.BranchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadInvoiceDetails(ctx, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

// loadInvoiceDetails fills lines and payments for a batch of invoice headers.
func (s *Store) loadInvoiceDetails(ctx context.Context, invoices []domain.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]string, 0, len(invoices))
	index := make(map[string]int, len(invoices))
	for i := range invoices {
		ids = append(ids, invoices[i].ID)
		index[invoices[i].ID] = i
		invoices[i].Lines = make([]domain.InvoiceLine, 0, 4)
		invoices[i].Payments = make([]domain.PaymentSplit, 0, 2)
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, item_id, barcode, description, metal_type, karat,
			weight_grams, price_per_gram, labor_charge, line_total
		FROM invoice_lines
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, line_no ASC
	`, ids)
	if err != nil {
		return err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var invoiceID string
		var line domain.InvoiceLine
		if err := lineRows.Scan(&invoiceID, &line.ItemID, &line.Barcode, &line.Description, &line.MetalType, &line.Karat,
			&line.WeightGrams, &line.PricePerGram, &line.LaborCharge, &line.LineTotal); err != nil {
			return err
		}
		if i, ok := index[invoiceID]; ok {
			invoices[i].Lines = append(invoices[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return err
	}

	payRows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, method, amount, reference
		FROM invoice_payments
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, split_no ASC
	`, ids)
	if err != nil {
		return err
	}
	defer payRows.Close()
	for payRows.Next() {
		var invoiceID string
		var p domain.PaymentSplit
		if err := payRows.Scan(&invoiceID, &p.Method, &p.Amount, &p.Reference); err != nil {
			return err
		}
		if i, ok := index[invoiceID]; ok {
			invoices[i].Payments = append(invoices[i].Payments, p)
		}
	}
	return payRows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.Action == "" {
		return store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.BranchID, entry.ActorID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, filter.BranchID, nullZeroTime(filter.From), nullZeroTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// lineItemIDs returns item ids in line order, or false on a repeated id.
func lineItemIDs(lines []domain.InvoiceLine) ([]string, bool) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ItemID == "" {
			return nil, false
		}
		if _, dup := seen[line.ItemID]; dup {
			return nil, false
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids, true
}

const oldGoldColumns = `id, branch_id, COALESCE(customer_id, ''), seller_name, seller_civil_id, seller_phone, description, karat, weight_grams, price_per_gram, total_paid, auto_priced, created_by, created_at`

func (s *Store) CreateOldGoldPurchase(ctx context.Context, purchase domain.OldGoldPurchase) (*domain.OldGoldPurchase, error) {
	if purchase.BranchID == "" || !purchase.WeightGrams.IsPositive() || !purchase.PricePerGram.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("ogp")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO old_gold_purchases (id, branch_id, customer_id, seller_name, seller_civil_id, seller_phone,
			description, karat, weight_grams, price_per_gram, total_paid, auto_priced, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, purchase.ID, purchase.BranchID, nullIfEmpty(purchase.CustomerID), purchase.SellerName, purchase.SellerCivilID,
		purchase.SellerPhone, purchase.Description, purchase.Karat, purchase.WeightGrams, purchase.PricePerGram,
		purchase.TotalPaid, purchase.AutoPriced, purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &purchase, nil
}

func (s *Store) ListOldGoldPurchases(ctx context.Context, filter domain.OldGoldFilter) ([]domain.OldGoldPurchase, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+oldGoldColumns+`
		FROM old_gold_purchases
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, filter.BranchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.OldGoldPurchase, 0, limit)
	for rows.Next() {
		var p domain.OldGoldPurchase
		if err := rows.Scan(&p.ID, &p.BranchID, &p.CustomerID, &p.SellerName, &p.SellerCivilID, &p.SellerPhone,
			&p.Description, &p.Karat, &p.WeightGrams, &p.PricePerGram, &p.TotalPaid, &p.AutoPriced,
			&p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func mapWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err), isCheckViolation(err):
		return store.ErrInvalidInput
	default:
		return err
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
