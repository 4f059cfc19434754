package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/store"
	"dahabpos/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	branches          map[string]domain.Branch
	staff             map[string]domain.StaffUser
	items             map[string]domain.InventoryItem
	customers         map[string]domain.Customer
	invoices          map[string]*domain.Invoice
	invoicesByIdem    map[string]string
	nextInvoiceNumber int64
	oldGold           []domain.OldGoldPurchase
	auditLogs         []domain.AuditLog
}

func New() *Store {
	return &Store{
		branches:          make(map[string]domain.Branch),
		staff:             make(map[string]domain.StaffUser),
		items:             make(map[string]domain.InventoryItem),
		customers:         make(map[string]domain.Customer),
		invoices:          make(map[string]*domain.Invoice),
		invoicesByIdem:    make(map[string]string),
		nextInvoiceNumber: 1,
		auditLogs:         make([]domain.AuditLog, 0, 128),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with two branches, one account per role and a
// small jewelry inventory, for dev/demo mode. Passwords come from
// SEED_OWNER_PASSWORD, SEED_MANAGER_PASSWORD and SEED_SALES_PASSWORD, falling
// back to dev defaults.
func NewSeeded() *Store {
	s := New()
	base := time.Now().UTC().Add(-24 * time.Hour)

	s.branches["br-main"] = domain.Branch{ID: "br-main", Name: "Main Branch", Location: "Kuwait City", Phone: "+965 2240 0001", IsMain: true, CreatedAt: base}
	s.branches["br-salmiya"] = domain.Branch{ID: "br-salmiya", Name: "Salmiya", Location: "Salem Al Mubarak St", Phone: "+965 2570 0002", CreatedAt: base.Add(time.Minute)}

	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	salesPwd := envOr("SEED_SALES_PASSWORD", "sales123")
	for i, u := range []struct {
		id, username, password, fullName string
		role                             domain.Role
		branchID                         string
	}{
		{"u-owner", "owner", ownerPwd, "Store Owner", domain.RoleStoreOwner, ""},
		{"u-manager", "manager", managerPwd, "Main Manager", domain.RoleBranchManager, "br-main"},
		{"u-sales", "sales", salesPwd, "Main Sales", domain.RoleSalesMan, "br-main"},
		{"u-salmiya-manager", "salmiya.manager", managerPwd, "Salmiya Manager", domain.RoleBranchManager, "br-salmiya"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		s.staff[u.id] = domain.StaffUser{
			ID:           u.id,
			Username:     u.username,
			PasswordHash: string(hash),
			FullName:     u.fullName,
			Role:         u.role,
			BranchID:     u.branchID,
			Active:       true,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}
	}

	for i, it := range []struct {
		id, barcode, name string
		metal             domain.MetalType
		karat             domain.Karat
		weight, cost      string
		branchID          string
	}{
		{"itm-ring-21k", "GLD21-0001", "21K Gold Ring", domain.MetalGold, domain.Karat21, "5.250", "19.800", "br-main"},
		{"itm-bangle-22k", "GLD22-0002", "22K Gold Bangle", domain.MetalGold, domain.Karat22, "12.400", "20.900", "br-main"},
		{"itm-chain-18k", "GLD18-0003", "18K Gold Chain", domain.MetalGold, domain.Karat18, "8.125", "17.100", "br-main"},
		{"itm-silver-set", "SLV-0004", "Silver Necklace Set", domain.MetalSilver, "", "45.000", "0.250", "br-main"},
		{"itm-diamond-ring", "DIA-0005", "Diamond Solitaire Ring", domain.MetalDiamond, "", "3.200", "310.000", "br-main"},
		{"itm-pendant-24k", "GLD24-0006", "24K Gold Pendant", domain.MetalGold, domain.Karat24, "2.500", "23.600", "br-salmiya"},
	} {
		s.items[it.id] = domain.InventoryItem{
			ID:          it.id,
			Barcode:     it.barcode,
			Name:        it.name,
			MetalType:   it.metal,
			Karat:       it.karat,
			WeightGrams: decimal.RequireFromString(it.weight),
			CostPerGram: decimal.RequireFromString(it.cost),
			Status:      domain.ItemInStock,
			BranchID:    it.branchID,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
	}

	s.customers["cus-walkin"] = domain.Customer{ID: "cus-walkin", FullName: "Walk-in Customer", CreatedAt: base}
	s.customers["cus-main-1"] = domain.Customer{ID: "cus-main-1", FullName: "Fatima Al-Sabah", Phone: "+965 9000 1111", CivilID: "290010112345", BranchID: "br-main", CreatedAt: base}
	s.customers["cus-salmiya-1"] = domain.Customer{ID: "cus-salmiya-1", FullName: "Yousef Al-Mutairi", Phone: "+965 9000 2222", CivilID: "288050567890", BranchID: "br-salmiya", CreatedAt: base}

	return s
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.Branch) int {
		if a.IsMain != b.IsMain {
			if a.IsMain {
				return -1
			}
			return 1
		}
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if _, exists := s.branches[branch.ID]; exists {
		return nil, store.ErrConflict
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.IsMain = len(s.branches) == 0
	s.branches[branch.ID] = branch
	return &branch, nil
}

func (s *Store) UpdateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.branches[branch.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.IsMain && !branch.IsMain {
		return nil, store.ErrInvalidInput
	}
	if branch.IsMain && !existing.IsMain {
		for id, b := range s.branches {
			if b.IsMain {
				b.IsMain = false
				s.branches[id] = b
			}
		}
	}
	branch.CreatedAt = existing.CreatedAt
	s.branches[branch.ID] = branch
	return &branch, nil
}

func (s *Store) DeleteBranch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[id]
	if !ok {
		return store.ErrNotFound
	}

	staffCount, itemCount := 0, 0
	for _, u := range s.staff {
		if u.BranchID == id {
			staffCount++
		}
	}
	for _, it := range s.items {
		if it.BranchID == id {
			itemCount++
		}
	}
	if staffCount > 0 || itemCount > 0 {
		return domain.BranchNotEmpty(id, staffCount, itemCount)
	}
	for _, p := range s.oldGold {
		if p.BranchID == id {
			return store.ErrConflict
		}
	}

	delete(s.branches, id)
	for cid, c := range s.customers {
		if c.BranchID == id {
			delete(s.customers, cid)
		}
	}
	if branch.IsMain {
		var successor *domain.Branch
		for _, b := range s.branches {
			if successor == nil || b.CreatedAt.Before(successor.CreatedAt) ||
				(b.CreatedAt.Equal(successor.CreatedAt) && b.ID < successor.ID) {
				candidate := b
				successor = &candidate
			}
		}
		if successor != nil {
			successor.IsMain = true
			s.branches[successor.ID] = *successor
		}
	}
	return nil
}

func (s *Store) ListStaff(_ context.Context, branchID string) ([]domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StaffUser, 0, len(s.staff))
	for _, u := range s.staff {
		if branchID != "" && u.BranchID != branchID {
			continue
		}
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.StaffUser) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) GetStaff(_ context.Context, id string) (*domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.staff[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetStaffByUsername(_ context.Context, username string) (*domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.staff {
		if strings.EqualFold(u.Username, username) {
			found := u
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateStaff(_ context.Context, user domain.StaffUser) (*domain.StaffUser, error) {
	if user.Username == "" || user.PasswordHash == "" || !user.Role.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStaffLocked(user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.staff[user.ID] = user
	return &user, nil
}

func (s *Store) UpdateStaff(_ context.Context, user domain.StaffUser) (*domain.StaffUser, error) {
	if !user.Role.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.staff[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Username = existing.Username
	user.CreatedAt = existing.CreatedAt
	if user.PasswordHash == "" {
		user.PasswordHash = existing.PasswordHash
	}
	if err := s.checkStaffLocked(user); err != nil {
		return nil, err
	}
	s.staff[user.ID] = user
	return &user, nil
}

// checkStaffLocked enforces unique usernames, a single store owner and an
// existing branch for branch-bound roles.
func (s *Store) checkStaffLocked(user domain.StaffUser) error {
	for id, other := range s.staff {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(other.Username, user.Username) {
			return store.ErrConflict
		}
		if user.Role == domain.RoleStoreOwner && other.Role == domain.RoleStoreOwner {
			return store.ErrConflict
		}
	}
	if user.BranchID != "" {
		if _, ok := s.branches[user.BranchID]; !ok {
			return store.ErrInvalidInput
		}
	}
	return nil
}

func (s *Store) DeleteStaff(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.staff[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Role == domain.RoleStoreOwner {
		return store.ErrConflict
	}
	delete(s.staff, id)
	return nil
}

func (s *Store) ListInventory(_ context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.InventoryItem, 0, len(s.items))
	for _, it := range s.items {
		if filter.BranchID != "" && it.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && it.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(it.Name), search) && !strings.Contains(strings.ToLower(it.Barcode), search) {
			continue
		}
		result = append(result, it)
	}
	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		return cmp.Compare(a.Barcode, b.Barcode)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetInventoryItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &it, nil
}

func (s *Store) GetInventoryItemByBarcode(_ context.Context, barcode string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.items {
		if strings.EqualFold(it.Barcode, barcode) {
			found := it
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Barcode == "" || item.BranchID == "" || !item.WeightGrams.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[item.BranchID]; !ok {
		return nil, store.ErrInvalidInput
	}
	for _, other := range s.items {
		if strings.EqualFold(other.Barcode, item.Barcode) {
			return nil, store.ErrConflict
		}
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
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) UpdateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if !item.WeightGrams.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.Status != domain.ItemInStock {
		return nil, store.ErrConflict
	}
	existing.Name = item.Name
	existing.MetalType = item.MetalType
	existing.Karat = item.Karat
	existing.WeightGrams = item.WeightGrams
	existing.CostPerGram = item.CostPerGram
	s.items[item.ID] = existing
	return &existing, nil
}

func (s *Store) DeleteInventoryItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if it.Status != domain.ItemInStock {
		return store.ErrConflict
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if filter.BranchID != "" && c.BranchID != filter.BranchID && !(filter.IncludeTenant && c.BranchID == "") {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.FullName), search) &&
			!strings.Contains(c.Phone, search) &&
			!strings.Contains(c.CivilID, search) {
			continue
		}
		result = append(result, cloneCustomer(c))
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmp.Or(cmp.Compare(a.FullName, b.FullName), cmp.Compare(a.ID, b.ID))
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneCustomer(c)
	return &found, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.FullName) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.BranchID != "" {
		if _, ok := s.branches[customer.BranchID]; !ok {
			return nil, store.ErrInvalidInput
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	stored := cloneCustomer(customer)
	s.customers[customer.ID] = stored
	created := cloneCustomer(stored)
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.FullName) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.BranchID = existing.BranchID
	customer.CreatedAt = existing.CreatedAt
	s.customers[customer.ID] = cloneCustomer(customer)
	updated := cloneCustomer(customer)
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	for _, inv := range s.invoices {
		if inv.CustomerID == id {
			return store.ErrConflict
		}
	}
	for _, p := range s.oldGold {
		if p.CustomerID == id {
			return store.ErrConflict
		}
	}
	delete(s.customers, id)
	return nil
}

// CommitSale checks and flips every item under one write lock so overlapping
// commits serialize; nothing changes unless every item is still in stock.
func (s *Store) CommitSale(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == "" || invoice.BranchID == "" || invoice.CustomerID == "" || len(invoice.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.IdempotencyKey != "" {
		if _, exists := s.invoicesByIdem[invoice.IdempotencyKey]; exists {
			return nil, store.ErrConflict
		}
	}
	if _, ok := s.customers[invoice.CustomerID]; !ok {
		return nil, store.ErrInvalidInput
	}

	seen := make(map[string]struct{}, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if _, dup := seen[line.ItemID]; dup {
			return nil, store.ErrInvalidInput
		}
		seen[line.ItemID] = struct{}{}

		it, ok := s.items[line.ItemID]
		if !ok || it.Status != domain.ItemInStock || it.BranchID != invoice.BranchID {
			return nil, domain.ItemAlreadySold(line.ItemID)
		}
	}

	soldAt := invoice.CreatedAt
	for _, line := range invoice.Lines {
		it := s.items[line.ItemID]
		it.Status = domain.ItemSold
		it.InvoiceID = invoice.ID
		it.SoldAt = &soldAt
		s.items[line.ItemID] = it
	}

	invoice.Number = s.nextInvoiceNumber
	s.nextInvoiceNumber++
	stored := cloneInvoice(&invoice)
	s.invoices[invoice.ID] = stored
	if invoice.IdempotencyKey != "" {
		s.invoicesByIdem[invoice.IdempotencyKey] = invoice.ID
	}
	return cloneInvoice(stored), nil
}

func (s *Store) FindInvoiceByIdempotency(_ context.Context, key string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoicesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(s.invoices[id]), nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if filter.BranchID != "" && inv.BranchID != filter.BranchID {
			continue
		}
		result = append(result, *cloneInvoice(inv))
	}
	slices.SortFunc(result, func(a, b domain.Invoice) int {
		return cmp.Compare(b.Number, a.Number)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateOldGoldPurchase(_ context.Context, purchase domain.OldGoldPurchase) (*domain.OldGoldPurchase, error) {
	if purchase.BranchID == "" || !purchase.WeightGrams.IsPositive() || !purchase.PricePerGram.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[purchase.BranchID]; !ok {
		return nil, store.ErrInvalidInput
	}
	if purchase.CustomerID != "" {
		if _, ok := s.customers[purchase.CustomerID]; !ok {
			return nil, store.ErrInvalidInput
		}
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("ogp")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	s.oldGold = append(s.oldGold, purchase)
	return &purchase, nil
}

// ListOldGoldPurchases returns the newest purchases first.
func (s *Store) ListOldGoldPurchases(_ context.Context, filter domain.OldGoldFilter) ([]domain.OldGoldPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OldGoldPurchase, 0, len(s.oldGold))
	for i := len(s.oldGold) - 1; i >= 0; i-- {
		p := s.oldGold[i]
		if filter.BranchID != "" && p.BranchID != filter.BranchID {
			continue
		}
		result = append(result, p)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.Action == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if filter.BranchID != "" && entry.BranchID != filter.BranchID {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func cloneInvoice(src *domain.Invoice) *domain.Invoice {
	if src == nil {
		return nil
	}
	cloned := *src
	cloned.Lines = append([]domain.InvoiceLine(nil), src.Lines...)
	cloned.Payments = append([]domain.PaymentSplit(nil), src.Payments...)
	return &cloned
}

func cloneCustomer(src domain.Customer) domain.Customer {
	cloned := src
	cloned.IDImageRefs = append([]string(nil), src.IDImageRefs...)
	return cloned
}
