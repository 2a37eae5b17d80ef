package auth

import (
	"retail-backend/internal/apperr"
	"retail-backend/internal/models"
)

// The guard functions hold the escalation rules. They are pure: callers
// load the target first and pass its current role.

// IsSelf reports whether the caller is acting on its own account.
func IsSelf(caller Principal, targetID uint) bool {
	return caller.UserID != 0 && caller.UserID == targetID
}

// CanCreateRole decides whether caller may create an account with role.
// Creating a superadmin needs a superadmin caller, or the bootstrap state.
// Other roles fall through to the ordinary route requirement.
func CanCreateRole(caller *Principal, role models.Role, bootstrap bool) error {
	switch role {
	case models.RoleSuperAdmin:
		if bootstrap {
			return nil
		}
		if caller != nil && caller.IsSuperAdmin() {
			return nil
		}
		return apperr.New(apperr.CodeCannotCreateSuperAdmin, "only a superadmin can create a superadmin account")
	case models.RoleAdmin, models.RoleUser, models.RoleCustomer:
		return nil
	default:
		return apperr.Invalid("unknown role")
	}
}

// CanChangeRole decides whether caller may move an account from one role
// to another. Elevating to superadmin, or demoting a superadmin, needs a
// superadmin caller.
func CanChangeRole(caller Principal, from, to models.Role) error {
	if !to.Valid() {
		return apperr.Invalid("unknown role")
	}
	if from == to {
		return nil
	}
	if to == models.RoleSuperAdmin {
		return CanCreateRole(&caller, to, false)
	}
	return CanModifyAccount(caller, from)
}

// CanModifyPrivileges decides whether caller may grant or revoke privileges
// on an account whose role is target. A superadmin's grants are only
// writable by a superadmin, whatever privileges the caller holds.
func CanModifyPrivileges(caller Principal, target models.Role) error {
	switch target {
	case models.RoleSuperAdmin:
		if caller.IsSuperAdmin() {
			return nil
		}
		return apperr.New(apperr.CodeCannotModifySuperAdminPrivileges, "superadmin privileges can only be changed by a superadmin")
	case models.RoleAdmin, models.RoleUser, models.RoleCustomer:
		return nil
	default:
		return apperr.New(apperr.CodeForbidden, "not permitted")
	}
}

// CanModifyAccount decides whether caller may update or delete an account
// whose role is target.
func CanModifyAccount(caller Principal, target models.Role) error {
	switch target {
	case models.RoleSuperAdmin:
		if caller.IsSuperAdmin() {
			return nil
		}
		return apperr.New(apperr.CodeCannotModifySuperAdmin, "superadmin accounts can only be changed by a superadmin")
	case models.RoleAdmin, models.RoleUser, models.RoleCustomer:
		return nil
	default:
		return apperr.New(apperr.CodeForbidden, "not permitted")
	}
}
