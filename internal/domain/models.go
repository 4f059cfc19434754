package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleStoreOwner    Role = "store_owner"
	RoleBranchManager Role = "branch_manager"
	RoleSalesMan      Role = "sales_man"
)

// ParseRole returns the closed Role value for raw, or false when raw names no role.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleStoreOwner, RoleBranchManager, RoleSalesMan:
		return Role(raw), true
	default:
		return "", false
	}
}

// Rank orders roles by authority. Unknown roles rank below every known one.
func (r Role) Rank() int {
	switch r {
	case RoleStoreOwner:
		return 3
	case RoleBranchManager:
		return 2
	case RoleSalesMan:
		return 1
	default:
		return 0
	}
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

type MetalType string

const (
	MetalGold     MetalType = "Gold"
	MetalSilver   MetalType = "Silver"
	MetalPlatinum MetalType = "Platinum"
	MetalDiamond  MetalType = "Diamond"
)

func (m MetalType) Valid() bool {
	switch m {
	case MetalGold, MetalSilver, MetalPlatinum, MetalDiamond:
		return true
	default:
		return false
	}
}

// Karat is only meaningful for gold; other metals carry an empty karat.
type Karat string

const (
	Karat24 Karat = "24K"
	Karat22 Karat = "22K"
	Karat21 Karat = "21K"
	Karat18 Karat = "18K"
)

var GoldKarats = []Karat{Karat24, Karat22, Karat21, Karat18}

func (k Karat) Valid() bool {
	switch k {
	case Karat24, Karat22, Karat21, Karat18:
		return true
	default:
		return false
	}
}

// ParseKarat accepts "21", "21k" or "21K".
func ParseKarat(v string) (Karat, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if !strings.HasSuffix(v, "K") {
		v += "K"
	}
	k := Karat(v)
	return k, k.Valid()
}

type ItemStatus string

const (
	ItemInStock ItemStatus = "in_stock"
	ItemSold    ItemStatus = "sold"
)

type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

func (a Actor) IsOwner() bool {
	return a.Role == RoleStoreOwner
}

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Phone     string    `json:"phone"`
	IsMain    bool      `json:"is_main"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Phone    string `json:"phone"`
}

type BranchUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	IsMain   *bool   `json:"is_main,omitempty"`
}

// StaffUser is both the staff record and the credential store entry.
type StaffUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	BranchID     string    `json:"branch_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u StaffUser) Actor() Actor {
	return Actor{ID: u.ID, Username: u.Username, Role: u.Role, BranchID: u.BranchID}
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
	BranchID string `json:"branch_id"`
}

type StaffUpdateRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *Role   `json:"role,omitempty"`
	BranchID *string `json:"branch_id,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

type InventoryItem struct {
	ID          string          `json:"id"`
	Barcode     string          `json:"barcode"`
	Name        string          `json:"name"`
	MetalType   MetalType       `json:"metal_type"`
	Karat       Karat           `json:"karat,omitempty"`
	WeightGrams decimal.Decimal `json:"weight_grams"`
	CostPerGram decimal.Decimal `json:"cost_per_gram"`
	Status      ItemStatus      `json:"status"`
	BranchID    string          `json:"branch_id"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	SoldAt      *time.Time      `json:"sold_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type InventoryCreateRequest struct {
	Barcode     string          `json:"barcode"`
	Name        string          `json:"name"`
	MetalType   MetalType       `json:"metal_type"`
	Karat       Karat           `json:"karat"`
	WeightGrams decimal.Decimal `json:"weight_grams"`
	CostPerGram decimal.Decimal `json:"cost_per_gram"`
	BranchID    string          `json:"branch_id"`
}

type InventoryUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	MetalType   *MetalType       `json:"metal_type,omitempty"`
	Karat       *Karat           `json:"karat,omitempty"`
	WeightGrams *decimal.Decimal `json:"weight_grams,omitempty"`
	CostPerGram *decimal.Decimal `json:"cost_per_gram,omitempty"`
}

type InventoryFilter struct {
	BranchID string
	Search   string
	Status   ItemStatus
	Limit    int
}

type BarcodeLookupResponse struct {
	Item       InventoryItem   `json:"item"`
	MarketRate decimal.Decimal `json:"market_rate"`
	Priced     bool            `json:"priced"`
	RatesAt    *time.Time      `json:"rates_updated_at,omitempty"`
}

// Customer records with an empty BranchID are tenant-wide.
type Customer struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name"`
	Phone       string    `json:"phone"`
	CivilID     string    `json:"civil_id"`
	BranchID    string    `json:"branch_id,omitempty"`
	IDImageRefs []string  `json:"id_image_refs,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	FullName    string   `json:"full_name"`
	Phone       string   `json:"phone"`
	CivilID     string   `json:"civil_id"`
	BranchID    string   `json:"branch_id"`
	IDImageRefs []string `json:"id_image_refs"`
}

type CustomerUpdateRequest struct {
	FullName    *string  `json:"full_name,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	CivilID     *string  `json:"civil_id,omitempty"`
	IDImageRefs []string `json:"id_image_refs,omitempty"`
}

type CustomerFilter struct {
	BranchID      string
	IncludeTenant bool
	Search        string
	Limit         int
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentKNET     PaymentMethod = "knet"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentKNET, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}

type PaymentSplit struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// InvoiceLine is a frozen copy of a cart line taken at commit time.
type InvoiceLine struct {
	ItemID       string          `json:"item_id"`
	Barcode      string          `json:"barcode"`
	Description  string          `json:"description"`
	MetalType    MetalType       `json:"metal_type"`
	Karat        Karat           `json:"karat,omitempty"`
	WeightGrams  decimal.Decimal `json:"weight_grams"`
	PricePerGram decimal.Decimal `json:"price_per_gram"`
	LaborCharge  decimal.Decimal `json:"labor_charge"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type Invoice struct {
	ID             string          `json:"id"`
	Number         int64           `json:"number"`
	BranchID       string          `json:"branch_id"`
	CustomerID     string          `json:"customer_id"`
	Lines          []InvoiceLine   `json:"lines"`
	Payments       []PaymentSplit  `json:"payments"`
	Total          decimal.Decimal `json:"total"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

type InvoiceFilter struct {
	BranchID string
	Limit    int
}

type SaleItemRequest struct {
	ID           string           `json:"id"`
	PricePerGram *decimal.Decimal `json:"price_per_gram,omitempty"`
	LaborCost    decimal.Decimal  `json:"labor_cost"`
}

type SaleCreateRequest struct {
	BranchID       string            `json:"branch_id"`
	CustomerID     string            `json:"customer_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Items          []SaleItemRequest `json:"items"`
	Payments       []PaymentSplit    `json:"payments"`
}

type SaleResponse struct {
	Invoice   Invoice `json:"invoice"`
	Duplicate bool    `json:"duplicate"`
}

// OldGoldPurchase records used or broken gold bought back over the counter.
// It is permanent and pins its branch like an invoice does.
type OldGoldPurchase struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	SellerName    string          `json:"customer_name"`
	SellerCivilID string          `json:"customer_civil_id"`
	SellerPhone   string          `json:"customer_phone,omitempty"`
	Description   string          `json:"item_description"`
	Karat         Karat           `json:"karat"`
	WeightGrams   decimal.Decimal `json:"weight_grams"`
	PricePerGram  decimal.Decimal `json:"price_per_gram_bought"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	AutoPriced    bool            `json:"auto_priced"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OldGoldPurchaseRequest leaves PricePerGram empty to buy at the quoted
// rate. TotalPaid, when sent, must agree with weight times price.
type OldGoldPurchaseRequest struct {
	BranchID      string           `json:"branch_id"`
	CustomerID    string           `json:"customer_id"`
	SellerName    string           `json:"customer_name"`
	SellerCivilID string           `json:"customer_civil_id"`
	SellerPhone   string           `json:"customer_phone"`
	Description   string           `json:"item_description"`
	Karat         string           `json:"karat"`
	WeightGrams   decimal.Decimal  `json:"weight"`
	PricePerGram  *decimal.Decimal `json:"price_per_gram_bought,omitempty"`
	TotalPaid     *decimal.Decimal `json:"total_paid,omitempty"`
}

type OldGoldQuote struct {
	Karat        Karat           `json:"karat"`
	MarketRate   decimal.Decimal `json:"market_rate"`
	PricePerGram decimal.Decimal `json:"price_per_gram"`
	Priced       bool            `json:"priced"`
}

type OldGoldFilter struct {
	BranchID string
	Limit    int
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// MeResponse describes the signed-in staff member as the server currently
// sees them.
type MeResponse struct {
	Actor          Actor  `json:"actor"`
	ActiveBranchID string `json:"active_branch_id,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id,omitempty"`
	ActorID       string    `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     Role      `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditFilter struct {
	BranchID string
	From     time.Time
	To       time.Time
	Limit    int
}
