// Package access evaluates what an actor may read, write or delete. Every
// decision comes from one role table; nothing here mutates state.
package access

import "dahabpos/backend/internal/domain"

type Resource string

const (
	ResourceBranch    Resource = "branch"
	ResourceStaff     Resource = "staff"
	ResourceInventory Resource = "inventory"
	ResourceCustomer  Resource = "customer"
	ResourceInvoice   Resource = "invoice"
	ResourceSale      Resource = "sale"
	ResourceRates     Resource = "rates"
	ResourceAudit     Resource = "audit"
	ResourceOldGold   Resource = "old_gold"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwnBranch
	ScopeAll
)

type rule map[Action]Scope

var (
	all     = rule{ActionRead: ScopeAll, ActionWrite: ScopeAll, ActionDelete: ScopeAll}
	own     = rule{ActionRead: ScopeOwnBranch, ActionWrite: ScopeOwnBranch, ActionDelete: ScopeOwnBranch}
	ownRead = rule{ActionRead: ScopeOwnBranch}
)

var policy = map[domain.Role]map[Resource]rule{
	domain.RoleStoreOwner: {
		ResourceBranch:    all,
		ResourceStaff:     all,
		ResourceInventory: all,
		ResourceCustomer:  all,
		ResourceInvoice:   {ActionRead: ScopeAll, ActionWrite: ScopeAll},
		ResourceSale:      {ActionWrite: ScopeAll},
		ResourceRates:     {ActionRead: ScopeAll, ActionWrite: ScopeAll},
		ResourceAudit:     {ActionRead: ScopeAll},
		ResourceOldGold:   {ActionRead: ScopeAll, ActionWrite: ScopeAll},
	},
	domain.RoleBranchManager: {
		ResourceBranch:    ownRead,
		ResourceStaff:     own,
		ResourceInventory: own,
		ResourceCustomer:  own,
		ResourceInvoice:   {ActionRead: ScopeOwnBranch, ActionWrite: ScopeOwnBranch},
		ResourceSale:      {ActionWrite: ScopeOwnBranch},
		ResourceRates:     {ActionRead: ScopeAll},
		ResourceAudit:     ownRead,
		ResourceOldGold:   {ActionRead: ScopeOwnBranch, ActionWrite: ScopeOwnBranch},
	},
	domain.RoleSalesMan: {
		ResourceBranch:    ownRead,
		ResourceInventory: ownRead,
		ResourceCustomer:  ownRead,
		ResourceInvoice:   ownRead,
		ResourceSale:      {ActionWrite: ScopeOwnBranch},
		ResourceRates:     {ActionRead: ScopeAll},
		ResourceOldGold:   {ActionRead: ScopeOwnBranch, ActionWrite: ScopeOwnBranch},
	},
}

// ScopeFor reports how far role may perform action on resource.
func ScopeFor(role domain.Role, resource Resource, action Action) Scope {
	return policy[role][resource][action]
}

// Allowed checks action on a record owned by branchID. An empty branchID
// denotes a tenant-wide record; only tenant-wide customers are visible to
// branch-scoped roles, and only for reading.
func Allowed(actor domain.Actor, resource Resource, action Action, branchID string) bool {
	switch ScopeFor(actor.Role, resource, action) {
	case ScopeAll:
		return true
	case ScopeOwnBranch:
		if branchID == "" {
			return resource == ResourceCustomer && action == ActionRead
		}
		return actor.BranchID != "" && actor.BranchID == branchID
	default:
		return false
	}
}

func CanRead(actor domain.Actor, resource Resource, branchID string) bool {
	return Allowed(actor, resource, ActionRead, branchID)
}

func CanWrite(actor domain.Actor, resource Resource, branchID string) bool {
	return Allowed(actor, resource, ActionWrite, branchID)
}

func CanDelete(actor domain.Actor, resource Resource, branchID string) bool {
	return Allowed(actor, resource, ActionDelete, branchID)
}

// CanWriteSales requires a resolved branch; no sale is ever branchless.
func CanWriteSales(actor domain.Actor, branchID string) bool {
	return branchID != "" && CanWrite(actor, ResourceSale, branchID)
}

func CanManageBranches(actor domain.Actor) bool {
	return ScopeFor(actor.Role, ResourceBranch, ActionWrite) == ScopeAll
}
