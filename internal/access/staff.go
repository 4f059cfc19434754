package access

import "dahabpos/backend/internal/domain"

func CanEditStaff(actor domain.Actor, target domain.StaffUser) bool {
	if actor.IsOwner() {
		return true
	}
	if target.Role == domain.RoleStoreOwner {
		return false
	}
	return CanWrite(actor, ResourceStaff, target.BranchID)
}

// CanDeleteStaff never allows removing a store owner or the actor itself.
func CanDeleteStaff(actor domain.Actor, target domain.StaffUser) bool {
	if target.Role == domain.RoleStoreOwner {
		return false
	}
	if actor.ID != "" && actor.ID == target.ID {
		return false
	}
	return CanDelete(actor, ResourceStaff, target.BranchID)
}

// CanCreateStaff checks a new account of role in branchID. The single store
// owner is seeded at bootstrap and can never be created here.
func CanCreateStaff(actor domain.Actor, role domain.Role, branchID string) bool {
	if !role.Valid() || role == domain.RoleStoreOwner {
		return false
	}
	if !actor.IsOwner() && role.Rank() > domain.RoleBranchManager.Rank() {
		return false
	}
	return CanWrite(actor, ResourceStaff, branchID)
}

// ValidateStaffChange returns PermissionDenied when actor may not turn before
// into after.
func ValidateStaffChange(actor domain.Actor, before domain.StaffUser, after domain.StaffUser) error {
	if !CanEditStaff(actor, before) {
		return domain.PermissionDenied("cannot edit staff %s", before.Username)
	}
	if !after.Role.Valid() {
		return domain.InvalidInput("unknown role %q", after.Role)
	}

	if before.Role == domain.RoleStoreOwner {
		if after.Role != domain.RoleStoreOwner {
			return domain.PermissionDenied("store owner cannot be demoted")
		}
		if !after.Active {
			return domain.PermissionDenied("store owner cannot be deactivated")
		}
		if after.BranchID != "" {
			return domain.PermissionDenied("store owner is not bound to a branch")
		}
		return nil
	}
	if after.Role == domain.RoleStoreOwner {
		return domain.PermissionDenied("only one store owner may exist")
	}
	if after.BranchID == "" {
		return domain.InvalidInput("branch is required for role %s", after.Role)
	}

	if actor.IsOwner() {
		return nil
	}
	if after.Role.Rank() > domain.RoleBranchManager.Rank() {
		return domain.PermissionDenied("cannot assign role %s", after.Role)
	}
	if after.BranchID != before.BranchID {
		return domain.PermissionDenied("cannot move staff to another branch")
	}
	return nil
}
