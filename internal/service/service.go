package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"dahabpos/backend/internal/access"
	"dahabpos/backend/internal/domain"
	"dahabpos/backend/internal/pricing"
	"dahabpos/backend/internal/sale"
	"dahabpos/backend/internal/session"
	"dahabpos/backend/internal/store"
	"dahabpos/backend/internal/xid"
)

const minPasswordLength = 8

type Service struct {
	repo      store.Repository
	feed      *pricing.Feed
	catalog   *pricing.Catalog
	committer *sale.Committer
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo store.Repository, feed *pricing.Feed, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		feed = pricing.NewFeed(pricing.NewCatalog(), nil, nil, logger)
	}
	return &Service{
		repo:      repo,
		feed:      feed,
		catalog:   feed.Catalog(),
		committer: sale.NewCommitter(repo),
		logger:    logger.Named("service"),
		now:       time.Now,
	}
}

func denied(actor domain.Actor, action access.Action, resource access.Resource, branchID string) error {
	if branchID == "" {
		return domain.PermissionDenied("%s may not %s %s", actor.Role, action, resource)
	}
	return domain.PermissionDenied("%s may not %s %s in branch %s", actor.Role, action, resource, branchID)
}

// storeErr turns repository sentinels into domain errors; domain errors and
// unexpected failures pass through.
func storeErr(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domain.NotFound(entity)
	case errors.Is(err, store.ErrInvalidInput):
		return domain.InvalidInput("invalid %s", entity)
	case errors.Is(err, store.ErrConflict):
		return domain.Conflict("%s conflicts with an existing record", entity)
	default:
		return err
	}
}

func (s *Service) ListBranches(ctx context.Context, sess session.Context) ([]domain.Branch, error) {
	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Branch, 0, len(branches))
	for _, b := range branches {
		if access.CanRead(sess.Actor, access.ResourceBranch, b.ID) {
			visible = append(visible, b)
		}
	}
	return visible, nil
}

func (s *Service) CreateBranch(ctx context.Context, sess session.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	if !access.CanManageBranches(sess.Actor) {
		return domain.Branch{}, denied(sess.Actor, access.ActionWrite, access.ResourceBranch, "")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Branch{}, domain.InvalidInput("branch name is required")
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:       xid.New("br"),
		Name:     name,
		Location: strings.TrimSpace(req.Location),
		Phone:    strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Branch{}, storeErr(err, "branch")
	}
	s.logAudit(ctx, sess, created.ID, "branch_create", "branch", created.ID, fmt.Sprintf("name=%s,main=%t", created.Name, created.IsMain))
	return *created, nil
}

func (s *Service) UpdateBranch(ctx context.Context, sess session.Context, id string, req domain.BranchUpdateRequest) (domain.Branch, error) {
	if !access.CanManageBranches(sess.Actor) {
		return domain.Branch{}, denied(sess.Actor, access.ActionWrite, access.ResourceBranch, id)
	}
	existing, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		return domain.Branch{}, storeErr(err, "branch")
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Branch{}, domain.InvalidInput("branch name is required")
		}
		updated.Name = name
	}
	if req.Location != nil {
		updated.Location = strings.TrimSpace(*req.Location)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.IsMain != nil {
		if existing.IsMain && !*req.IsMain {
			return domain.Branch{}, domain.InvalidInput("promote another branch to main instead")
		}
		updated.IsMain = *req.IsMain
	}

	saved, err := s.repo.UpdateBranch(ctx, updated)
	if err != nil {
		return domain.Branch{}, storeErr(err, "branch")
	}
	s.logAudit(ctx, sess, saved.ID, "branch_update", "branch", saved.ID, fmt.Sprintf("name=%s,main=%t", saved.Name, saved.IsMain))
	return *saved, nil
}

// DeleteBranch succeeds only for an empty branch. Removing the main branch
// passes main status to the oldest remaining branch.
func (s *Service) DeleteBranch(ctx context.Context, sess session.Context, id string) error {
	if !access.CanManageBranches(sess.Actor) {
		return denied(sess.Actor, access.ActionDelete, access.ResourceBranch, id)
	}
	if err := s.repo.DeleteBranch(ctx, id); err != nil {
		return storeErr(err, "branch")
	}
	s.logAudit(ctx, sess, id, "branch_delete", "branch", id, "")
	return nil
}

func (s *Service) ListStaff(ctx context.Context, sess session.Context, branchID string) ([]domain.StaffUser, error) {
	branch, err := sess.Branch(branchID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.Actor, access.ResourceStaff, branch) {
		return nil, denied(sess.Actor, access.ActionRead, access.ResourceStaff, branch)
	}
	return s.repo.ListStaff(ctx, branch)
}

func (s *Service) GetStaff(ctx context.Context, sess session.Context, id string) (domain.StaffUser, error) {
	user, err := s.repo.GetStaff(ctx, id)
	if err != nil {
		return domain.StaffUser{}, storeErr(err, "staff")
	}
	if user.ID != sess.Actor.ID && !access.CanRead(sess.Actor, access.ResourceStaff, user.BranchID) {
		return domain.StaffUser{}, denied(sess.Actor, access.ActionRead, access.ResourceStaff, user.BranchID)
	}
	return *user, nil
}

func (s *Service) CreateStaff(ctx context.Context, sess session.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	role, ok := domain.ParseRole(strings.TrimSpace(string(req.Role)))
	if !ok {
		return domain.StaffUser{}, domain.InvalidInput("unknown role %q", req.Role)
	}
	branch, err := sess.Branch(req.BranchID)
	if err != nil {
		return domain.StaffUser{}, err
	}
	if branch == "" {
		return domain.StaffUser{}, domain.InvalidInput("branch is required for role %s", role)
	}
	if !access.CanCreateStaff(sess.Actor, role, branch) {
		return domain.StaffUser{}, domain.PermissionDenied("%s may not create %s staff in branch %s", sess.Actor.Role, role, branch)
	}
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return domain.StaffUser{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffUser{}, err
	}
	if _, err := s.repo.GetBranch(ctx, branch); err != nil {
		return domain.StaffUser{}, storeErr(err, "branch")
	}

	created, err := s.repo.CreateStaff(ctx, domain.StaffUser{
		ID:           xid.New("usr"),
		Username:     username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         role,
		BranchID:     branch,
		Active:       true,
	})
	if err != nil {
		return domain.StaffUser{}, storeErr(err, "staff")
	}
	s.logAudit(ctx, sess, branch, "staff_create", "staff", created.ID, fmt.Sprintf("username=%s,role=%s", created.Username, created.Role))
	return *created, nil
}

func (s *Service) UpdateStaff(ctx context.Context, sess session.Context, id string, req domain.StaffUpdateRequest) (domain.StaffUser, error) {
	before, err := s.repo.GetStaff(ctx, id)
	if err != nil {
		return domain.StaffUser{}, storeErr(err, "staff")
	}

	after := *before
	after.PasswordHash = ""
	if req.FullName != nil {
		after.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Role != nil {
		role, ok := domain.ParseRole(strings.TrimSpace(string(*req.Role)))
		if !ok {
			return domain.StaffUser{}, domain.InvalidInput("unknown role %q", *req.Role)
		}
		after.Role = role
	}
	if req.BranchID != nil {
		after.BranchID = strings.TrimSpace(*req.BranchID)
	}
	if req.Active != nil {
		after.Active = *req.Active
	}
	if err := access.ValidateStaffChange(sess.Actor, *before, after); err != nil {
		return domain.StaffUser{}, err
	}
	if req.Password != nil {
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return domain.StaffUser{}, err
		}
		after.PasswordHash = hash
	}
	if after.BranchID != "" && after.BranchID != before.BranchID {
		if _, err := s.repo.GetBranch(ctx, after.BranchID); err != nil {
			return domain.StaffUser{}, storeErr(err, "branch")
		}
	}

	saved, err := s.repo.UpdateStaff(ctx, after)
	if err != nil {
		return domain.StaffUser{}, storeErr(err, "staff")
	}
	s.logAudit(ctx, sess, saved.BranchID, "staff_update", "staff", saved.ID,
		fmt.Sprintf("role=%s,branch=%s,active=%t,password_changed=%t", saved.Role, saved.BranchID, saved.Active, req.Password != nil))
	return *saved, nil
}

func (s *Service) DeleteStaff(ctx context.Context, sess session.Context, id string) error {
	target, err := s.repo.GetStaff(ctx, id)
	if err != nil {
		return storeErr(err, "staff")
	}
	if !access.CanDeleteStaff(sess.Actor, *target) {
		return domain.PermissionDenied("cannot delete staff %s", target.Username)
	}
	if err := s.repo.DeleteStaff(ctx, id); err != nil {
		return storeErr(err, "staff")
	}
	s.logAudit(ctx, sess, target.BranchID, "staff_delete", "staff", id, "username="+target.Username)
	return nil
}

// Authenticate checks a username and password against the staff records.
// Unknown users and wrong passwords fail the same way.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.StaffUser, error) {
	user, err := s.repo.GetStaffByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StaffUser{}, ErrInvalidCredentials
		}
		return domain.StaffUser{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.StaffUser{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.StaffUser{}, ErrInactiveAccount
	}
	return *user, nil
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// ResolveActor reloads an actor from its staff record so role, branch and
// active changes apply to tokens issued before them.
func (s *Service) ResolveActor(ctx context.Context, actorID string) (domain.Actor, error) {
	user, err := s.repo.GetStaff(ctx, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrInvalidCredentials
		}
		return domain.Actor{}, err
	}
	if !user.Active {
		return domain.Actor{}, ErrInactiveAccount
	}
	return user.Actor(), nil
}

// EnsureOwner creates the single store owner on an empty deployment. It is a
// no-op once an owner exists.
func (s *Service) EnsureOwner(ctx context.Context, username string, password string) error {
	users, err := s.repo.ListStaff(ctx, "")
	if err != nil {
		return fmt.Errorf("list staff: %w", err)
	}
	for _, u := range users {
		if u.Role == domain.RoleStoreOwner {
			return nil
		}
	}
	if password == "" {
		s.logger.Warn("no store owner exists and SEED_OWNER_PASSWORD is empty; nobody can manage this deployment")
		return nil
	}

	name, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	created, err := s.repo.CreateStaff(ctx, domain.StaffUser{
		ID:           xid.New("usr"),
		Username:     name,
		PasswordHash: hash,
		FullName:     "Store Owner",
		Role:         domain.RoleStoreOwner,
		Active:       true,
	})
	if errors.Is(err, store.ErrConflict) {
		// Another instance bootstrapped concurrently.
		return nil
	}
	if err != nil {
		return fmt.Errorf("create store owner: %w", err)
	}
	s.logger.Info("store owner created", zap.String("username", created.Username))
	s.logAudit(ctx, session.Context{}, "", "owner_bootstrap", "staff", created.ID, "username="+created.Username)
	return nil
}

func (s *Service) ListInventory(ctx context.Context, sess session.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	branch, err := sess.Branch(filter.BranchID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.Actor, access.ResourceInventory, branch) {
		return nil, denied(sess.Actor, access.ActionRead, access.ResourceInventory, branch)
	}
	if filter.Status != "" && filter.Status != domain.ItemInStock && filter.Status != domain.ItemSold {
		return nil, domain.InvalidInput("unknown item status %q", filter.Status)
	}
	filter.BranchID = branch
	return s.repo.ListInventory(ctx, filter)
}

func (s *Service) GetInventoryItem(ctx context.Context, sess session.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.GetInventoryItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, storeErr(err, "inventory item")
	}
	if !access.CanRead(sess.Actor, access.ResourceInventory, item.BranchID) {
		return domain.InventoryItem{}, denied(sess.Actor, access.ActionRead, access.ResourceInventory, item.BranchID)
	}
	return *item, nil
}

// LookupBarcode resolves a scanned barcode to its item and the market rate
// the cart would price it at.
func (s *Service) LookupBarcode(ctx context.Context, sess session.Context, barcode string) (domain.BarcodeLookupResponse, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.BarcodeLookupResponse{}, domain.InvalidInput("barcode is required")
	}
	item, err := s.repo.GetInventoryItemByBarcode(ctx, barcode)
	if err != nil {
		return domain.BarcodeLookupResponse{}, storeErr(err, "inventory item")
	}
	if !access.CanRead(sess.Actor, access.ResourceInventory, item.BranchID) {
		return domain.BarcodeLookupResponse{}, denied(sess.Actor, access.ActionRead, access.ResourceInventory, item.BranchID)
	}

	rate := s.catalog.RateFor(item.MetalType, item.Karat)
	resp := domain.BarcodeLookupResponse{
		Item:       *item,
		MarketRate: rate,
		Priced:     rate.IsPositive(),
	}
	if at := s.catalog.LastUpdated(); !at.IsZero() {
		resp.RatesAt = &at
	}
	return resp, nil
}

func (s *Service) CreateInventoryItem(ctx context.Context, sess session.Context, req domain.InventoryCreateRequest) (domain.InventoryItem, error) {
	branch, err := sess.Branch(req.BranchID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if branch == "" {
		return domain.InventoryItem{}, domain.InvalidInput("branch is required")
	}
	if !access.CanWrite(sess.Actor, access.ResourceInventory, branch) {
		return domain.InventoryItem{}, denied(sess.Actor, access.ActionWrite, access.ResourceInventory, branch)
	}

	item := domain.InventoryItem{
		ID:          xid.New("itm"),
		Barcode:     strings.ToUpper(strings.TrimSpace(req.Barcode)),
		Name:        strings.TrimSpace(req.Name),
		MetalType:   req.MetalType,
		Karat:       req.Karat,
		WeightGrams: req.WeightGrams,
		CostPerGram: req.CostPerGram,
		BranchID:    branch,
	}
	if item.Barcode == "" || item.Name == "" {
		return domain.InventoryItem{}, domain.InvalidInput("barcode and name are required")
	}
	if err := validateItemMaterial(&item); err != nil {
		return domain.InventoryItem{}, err
	}

	created, err := s.repo.CreateInventoryItem(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, storeErr(err, "inventory item")
	}
	s.logAudit(ctx, sess, branch, "inventory_create", "inventory_item", created.ID,
		fmt.Sprintf("barcode=%s,metal=%s,karat=%s,weight=%s", created.Barcode, created.MetalType, created.Karat, created.WeightGrams.StringFixed(domain.FilsPlaces)))
	return *created, nil
}

func (s *Service) UpdateInventoryItem(ctx context.Context, sess session.Context, id string, req domain.InventoryUpdateRequest) (domain.InventoryItem, error) {
	existing, err := s.repo.GetInventoryItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, storeErr(err, "inventory item")
	}
	if !access.CanWrite(sess.Actor, access.ResourceInventory, existing.BranchID) {
		return domain.InventoryItem{}, denied(sess.Actor, access.ActionWrite, access.ResourceInventory, existing.BranchID)
	}
	if existing.Status != domain.ItemInStock {
		return domain.InventoryItem{}, domain.Conflict("item %s is sold and can no longer change", id)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, domain.InvalidInput("name is required")
		}
		updated.Name = name
	}
	if req.MetalType != nil {
		updated.MetalType = *req.MetalType
	}
	if req.Karat != nil {
		updated.Karat = *req.Karat
	}
	if req.WeightGrams != nil {
		updated.WeightGrams = *req.WeightGrams
	}
	if req.CostPerGram != nil {
		updated.CostPerGram = *req.CostPerGram
	}
	if err := validateItemMaterial(&updated); err != nil {
		return domain.InventoryItem{}, err
	}

	saved, err := s.repo.UpdateInventoryItem(ctx, updated)
	if err != nil {
		return domain.InventoryItem{}, storeErr(err, "inventory item")
	}
	s.logAudit(ctx, sess, saved.BranchID, "inventory_update", "inventory_item", saved.ID, "barcode="+saved.Barcode)
	return *saved, nil
}

func (s *Service) DeleteInventoryItem(ctx context.Context, sess session.Context, id string) error {
	existing, err := s.repo.GetInventoryItem(ctx, id)
	if err != nil {
		return storeErr(err, "inventory item")
	}
	if !access.CanDelete(sess.Actor, access.ResourceInventory, existing.BranchID) {
		return denied(sess.Actor, access.ActionDelete, access.ResourceInventory, existing.BranchID)
	}
	if err := s.repo.DeleteInventoryItem(ctx, id); err != nil {
		return storeErr(err, "inventory item")
	}
	s.logAudit(ctx, sess, existing.BranchID, "inventory_delete", "inventory_item", id, "barcode="+existing.Barcode)
	return nil
}

func validateItemMaterial(item *domain.InventoryItem) error {
	if !item.MetalType.Valid() {
		return domain.InvalidInput("unknown metal type %q", item.MetalType)
	}
	if item.MetalType == domain.MetalGold {
		if !item.Karat.Valid() {
			return domain.InvalidInput("gold items need a karat of 24K, 22K, 21K or 18K")
		}
	} else {
		item.Karat = ""
	}
	if !item.WeightGrams.IsPositive() {
		return domain.InvalidInput("weight must be positive")
	}
	if item.CostPerGram.IsNegative() {
		return domain.InvalidInput("cost per gram must not be negative")
	}
	item.WeightGrams = domain.RoundFils(item.WeightGrams)
	item.CostPerGram = domain.RoundFils(item.CostPerGram)
	return nil
}

// ListCustomers returns the branch's own customers plus tenant-wide ones. A
// store owner without a branch sees every customer.
func (s *Service) ListCustomers(ctx context.Context, sess session.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	branch, err := sess.Branch(filter.BranchID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.Actor, access.ResourceCustomer, branch) {
		return nil, denied(sess.Actor, access.ActionRead, access.ResourceCustomer, branch)
	}
	filter.BranchID = branch
	filter.IncludeTenant = true
	return s.repo.ListCustomers(ctx, filter)
}

func (s *Service) GetCustomer(ctx context.Context, sess session.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, storeErr(err, "customer")
	}
	if !access.CanRead(sess.Actor, access.ResourceCustomer, customer.BranchID) {
		return domain.Customer{}, denied(sess.Actor, access.ActionRead, access.ResourceCustomer, customer.BranchID)
	}
	return *customer, nil
}

// CreateCustomer binds the customer to a branch. Only a store owner may leave
// the branch empty to create a tenant-wide customer.
func (s *Service) CreateCustomer(ctx context.Context, sess session.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	branch := strings.TrimSpace(req.BranchID)
	if !sess.Actor.IsOwner() {
		resolved, err := sess.Branch(branch)
		if err != nil {
			return domain.Customer{}, err
		}
		branch = resolved
	}
	if !access.CanWrite(sess.Actor, access.ResourceCustomer, branch) {
		return domain.Customer{}, denied(sess.Actor, access.ActionWrite, access.ResourceCustomer, branch)
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return domain.Customer{}, domain.InvalidInput("full name is required")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:          xid.New("cus"),
		FullName:    fullName,
		Phone:       strings.TrimSpace(req.Phone),
		CivilID:     strings.TrimSpace(req.CivilID),
		BranchID:    branch,
		IDImageRefs: cleanRefs(req.IDImageRefs),
	})
	if err != nil {
		return domain.Customer{}, storeErr(err, "customer")
	}
	s.logAudit(ctx, sess, branch, "customer_create", "customer", created.ID, "name="+created.FullName)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, sess session.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, storeErr(err, "customer")
	}
	if !access.CanWrite(sess.Actor, access.ResourceCustomer, existing.BranchID) {
		return domain.Customer{}, denied(sess.Actor, access.ActionWrite, access.ResourceCustomer, existing.BranchID)
	}

	updated := *existing
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return domain.Customer{}, domain.InvalidInput("full name is required")
		}
		updated.FullName = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.CivilID != nil {
		updated.CivilID = strings.TrimSpace(*req.CivilID)
	}
	if req.IDImageRefs != nil {
		updated.IDImageRefs = cleanRefs(req.IDImageRefs)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, storeErr(err, "customer")
	}
	s.logAudit(ctx, sess, saved.BranchID, "customer_update", "customer", saved.ID, "name="+saved.FullName)
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, sess session.Context, id string) error {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return storeErr(err, "customer")
	}
	if !access.CanDelete(sess.Actor, access.ResourceCustomer, existing.BranchID) {
		return denied(sess.Actor, access.ActionDelete, access.ResourceCustomer, existing.BranchID)
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Conflict("customer %s has invoices", id)
		}
		return storeErr(err, "customer")
	}
	s.logAudit(ctx, sess, existing.BranchID, "customer_delete", "customer", id, "name="+existing.FullName)
	return nil
}

func cleanRefs(refs []string) []string {
	cleaned := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			cleaned = append(cleaned, ref)
		}
	}
	return cleaned
}

// CreateSale builds a cart and payment splits from one request and commits
// them. The request is all-or-nothing exactly like an interactive checkout.
func (s *Service) CreateSale(ctx context.Context, sess session.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	branch, err := sess.Branch(req.BranchID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if !access.CanWriteSales(sess.Actor, branch) {
		return domain.SaleResponse{}, domain.PermissionDenied("%s may not sell in branch %s", sess.Actor.Username, branch)
	}

	// A retry must answer with the first invoice even though its items are
	// no longer in stock, so the key is resolved before the cart is built.
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.repo.FindInvoiceByIdempotency(ctx, key)
		switch {
		case err == nil:
			if existing.BranchID != branch {
				return domain.SaleResponse{}, domain.Conflict("idempotency key %s was used in another branch", key)
			}
			if sale.InvoiceFingerprint(*existing) != requestFingerprint(req) {
				return domain.SaleResponse{}, domain.Conflict("idempotency key %s was used for a different sale", key)
			}
			return domain.SaleResponse{Invoice: *existing, Duplicate: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return domain.SaleResponse{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	cart := sale.NewCart(branch, s.catalog)
	for _, line := range req.Items {
		itemID := strings.TrimSpace(line.ID)
		item, err := s.repo.GetInventoryItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SaleResponse{}, domain.NotFound("inventory item " + itemID)
			}
			return domain.SaleResponse{}, err
		}
		if _, err := cart.Stage(*item); err != nil {
			return domain.SaleResponse{}, err
		}
		if line.PricePerGram != nil {
			if _, err := cart.UpdateLine(itemID, sale.FieldPricePerGram, *line.PricePerGram); err != nil {
				return domain.SaleResponse{}, err
			}
		}
		if !line.LaborCost.IsZero() {
			if _, err := cart.UpdateLine(itemID, sale.FieldLaborCharge, line.LaborCost); err != nil {
				return domain.SaleResponse{}, err
			}
		}
	}

	payments := sale.NewPayments()
	for _, split := range req.Payments {
		if err := payments.AddSplit(split.Method, split.Amount, split.Reference); err != nil {
			return domain.SaleResponse{}, err
		}
	}

	var customer *domain.Customer
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		found, err := s.repo.GetCustomer(ctx, id)
		if err != nil {
			return domain.SaleResponse{}, storeErr(err, "customer")
		}
		customer = found
	}

	result, err := s.committer.Commit(ctx, sale.CommitRequest{
		Session:        sess,
		BranchID:       branch,
		Customer:       customer,
		Cart:           cart,
		Payments:       payments,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return domain.SaleResponse{}, storeErr(err, "invoice")
	}

	if !result.Duplicate {
		s.logAudit(ctx, sess, branch, "sale_create", "invoice", result.Invoice.ID,
			fmt.Sprintf("number=%d,items=%d,total=%s", result.Invoice.Number, len(result.Invoice.Lines), result.Invoice.Total.StringFixed(domain.FilsPlaces)))
	}
	return domain.SaleResponse{Invoice: result.Invoice, Duplicate: result.Duplicate}, nil
}

func requestFingerprint(req domain.SaleCreateRequest) string {
	itemIDs := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		itemIDs = append(itemIDs, strings.TrimSpace(line.ID))
	}
	paid := decimal.Zero
	for _, split := range req.Payments {
		paid = paid.Add(split.Amount)
	}
	return sale.Fingerprint(strings.TrimSpace(req.CustomerID), itemIDs, paid)
}

func (s *Service) ListInvoices(ctx context.Context, sess session.Context, branchID string, limit int) ([]domain.Invoice, error) {
	branch, err := sess.Branch(branchID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.Actor, access.ResourceInvoice, branch) {
		return nil, denied(sess.Actor, access.ActionRead, access.ResourceInvoice, branch)
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListInvoices(ctx, domain.InvoiceFilter{BranchID: branch, Limit: limit})
}

func (s *Service) GetInvoice(ctx context.Context, sess session.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, storeErr(err, "invoice")
	}
	if !access.CanRead(sess.Actor, access.ResourceInvoice, invoice.BranchID) {
		return domain.Invoice{}, denied(sess.Actor, access.ActionRead, access.ResourceInvoice, invoice.BranchID)
	}
	return *invoice, nil
}

func (s *Service) Rates(_ context.Context, sess session.Context) (domain.PriceSnapshot, error) {
	if !access.CanRead(sess.Actor, access.ResourceRates, "") {
		return domain.PriceSnapshot{}, denied(sess.Actor, access.ActionRead, access.ResourceRates, "")
	}
	snapshot, ok := s.catalog.Snapshot()
	if !ok {
		return domain.PriceSnapshot{Gold: map[domain.Karat]decimal.Decimal{}, Flat: map[domain.MetalType]decimal.Decimal{}}, nil
	}
	return snapshot, nil
}

// PublishRates replaces the market rates for every branch and broadcasts
// them to other instances.
func (s *Service) PublishRates(ctx context.Context, sess session.Context, snapshot domain.PriceSnapshot) (domain.PriceSnapshot, error) {
	if !access.CanWrite(sess.Actor, access.ResourceRates, "") {
		return domain.PriceSnapshot{}, denied(sess.Actor, access.ActionWrite, access.ResourceRates, "")
	}
	if len(snapshot.Gold) == 0 && len(snapshot.Flat) == 0 {
		return domain.PriceSnapshot{}, domain.InvalidInput("at least one rate is required")
	}
	snapshot.UpdatedAt = s.now().UTC()

	published, err := s.feed.Push(ctx, snapshot)
	if err != nil {
		// The local catalog already has the new rates; only fan-out failed.
		s.logger.Warn("rates applied locally but not broadcast", zap.Error(err))
	}
	s.logAudit(ctx, sess, "", "rates_publish", "rates", "", fmt.Sprintf("gold=%d,flat=%d", len(published.Gold), len(published.Flat)))
	return published, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, sess session.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	branch, err := sess.Branch(branchID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.Actor, access.ResourceAudit, branch) {
		return nil, denied(sess.Actor, access.ActionRead, access.ResourceAudit, branch)
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.InvalidInput("date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	return s.repo.ListAuditLogs(ctx, domain.AuditFilter{
		BranchID: branch,
		From:     from,
		To:       from.Add(24 * time.Hour),
		Limit:    limit,
	})
}

func (s *Service) logAudit(ctx context.Context, sess session.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor := sess.Actor
	if actor.Username == "" {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func normalizeUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if len(username) < 4 {
		return "", domain.InvalidInput("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return "", domain.InvalidInput("username must not contain spaces")
	}
	return username, nil
}

func hashPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return "", domain.InvalidInput("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
