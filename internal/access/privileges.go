// Package access manages the user-privilege and user-branch relations and
// exposes them over HTTP.
package access

import (
	"context"
	"fmt"
	"strings"

	"retail-backend/internal/apperr"
	"retail-backend/internal/models"
)

type PrivilegeRepository interface {
	List(ctx context.Context, module string) ([]models.Privilege, error)
	FindByID(ctx context.Context, id uint) (*models.Privilege, error)
	UpdateName(ctx context.Context, id uint, name string) (bool, error)
}

type GrantRepository interface {
	ListForUser(ctx context.Context, userID uint) ([]models.PrivilegeGrant, error)
	HasCodename(ctx context.Context, userID uint, codename string) (bool, error)
	Insert(ctx context.Context, userID, privilegeID uint, grantedBy *uint) (bool, error)
	Delete(ctx context.Context, userID, privilegeID uint) (bool, error)
}

type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// PrivilegeStore reads and changes the grants of users.
type PrivilegeStore struct {
	privileges PrivilegeRepository
	grants     GrantRepository
	users      UserLookup
}

func NewPrivilegeStore(privileges PrivilegeRepository, grants GrantRepository, users UserLookup) *PrivilegeStore {
	return &PrivilegeStore{privileges: privileges, grants: grants, users: users}
}

// Catalog lists every known privilege, optionally for one module.
func (s *PrivilegeStore) Catalog(ctx context.Context, module string) ([]models.Privilege, error) {
	return s.privileges.List(ctx, strings.TrimSpace(module))
}

// ListForUser returns the user's grants. No grants is an empty list.
func (s *PrivilegeStore) ListForUser(ctx context.Context, userID uint) ([]models.PrivilegeGrant, error) {
	grants, err := s.grants.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants of user %d: %w", userID, err)
	}
	return grants, nil
}

func (s *PrivilegeStore) HasPrivilege(ctx context.Context, userID uint, codename string) (bool, error) {
	ok, err := s.grants.HasCodename(ctx, userID, codename)
	if err != nil {
		return false, fmt.Errorf("check %s for user %d: %w", codename, userID, err)
	}
	return ok, nil
}

// Grant gives the privilege to the user. Granting an existing pair is a
// PRIVILEGE_ALREADY_GRANTED conflict.
func (s *PrivilegeStore) Grant(ctx context.Context, userID, privilegeID uint, grantedBy *uint) (*models.Privilege, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("user could not be loaded", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
	}

	priv, err := s.findPrivilege(ctx, privilegeID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.grants.Insert(ctx, userID, privilegeID, grantedBy)
	if err != nil {
		return nil, apperr.Internal("privilege could not be granted", err)
	}
	if !inserted {
		return nil, apperr.New(apperr.CodePrivilegeAlreadyGranted, "privilege is already granted to this user")
	}
	return priv, nil
}

// Revoke takes the privilege away. Revoking a grant that does not exist is
// PRIVILEGE_NOT_GRANTED.
func (s *PrivilegeStore) Revoke(ctx context.Context, userID, privilegeID uint) (*models.Privilege, error) {
	priv, err := s.findPrivilege(ctx, privilegeID)
	if err != nil {
		return nil, err
	}

	deleted, err := s.grants.Delete(ctx, userID, privilegeID)
	if err != nil {
		return nil, apperr.Internal("privilege could not be revoked", err)
	}
	if !deleted {
		return nil, apperr.New(apperr.CodePrivilegeNotGranted, "user does not hold this privilege")
	}
	return priv, nil
}

// Rename changes the display name of a privilege.
func (s *PrivilegeStore) Rename(ctx context.Context, privilegeID uint, name string) (*models.Privilege, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("name cannot be empty")
	}
	ok, err := s.privileges.UpdateName(ctx, privilegeID, name)
	if err != nil {
		return nil, apperr.Internal("privilege could not be updated", err)
	}
	if !ok {
		return nil, apperr.New(apperr.CodePrivilegeNotFound, "privilege not found")
	}
	return s.findPrivilege(ctx, privilegeID)
}

func (s *PrivilegeStore) findPrivilege(ctx context.Context, id uint) (*models.Privilege, error) {
	priv, err := s.privileges.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("privilege could not be loaded", err)
	}
	if priv == nil {
		return nil, apperr.New(apperr.CodePrivilegeNotFound, "privilege not found")
	}
	return priv, nil
}
