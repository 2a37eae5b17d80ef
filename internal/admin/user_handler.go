package admin

import (
	"fmt"
	"strings"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"
	"retail-backend/internal/repository"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	BranchIDs []uint `json:"branch_ids"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
}

// ----------------------------------------
// EMPLOYEES
// ----------------------------------------

// POST /api/users (superadmin or create_user)
// The account and its branch assignments are written in one transaction.
func (h *Handler) CreateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}

		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		role := models.RoleUser
		if body.Role != "" {
			r, ok := models.ParseRole(strings.TrimSpace(body.Role))
			if !ok {
				return apperr.Invalid("unknown role")
			}
			role = r
		}
		if err := auth.CanCreateRole(&p, role, false); err != nil {
			return err
		}

		name, email, err := auth.ValidateAccount(body.Name, body.Email, body.Password)
		if err != nil {
			return err
		}
		hash, err := h.hasher.Hash(body.Password)
		if err != nil {
			return apperr.Internal("password could not be hashed", err)
		}

		user := models.User{
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Role:         role,
		}

		err = h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := repository.NewUserRepository(tx).Create(c.UserContext(), &user); err != nil {
				return err
			}
			for _, branchID := range uniqueIDs(body.BranchIDs) {
				var n int64
				if err := tx.Model(&models.Branch{}).Where("id = ?", branchID).Count(&n).Error; err != nil {
					return err
				}
				if n == 0 {
					return apperr.New(apperr.CodeBranchNotFound, fmt.Sprintf("branch %d not found", branchID))
				}
				assignedBy := p.UserID
				row := models.UserBranch{UserID: user.ID, BranchID: branchID, AssignedBy: &assignedBy}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Internal("user could not be created", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			EntityType:  "user",
			EntityID:    user.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("%s account created", role),
			After:       auth.NewUserResponse(&user),
		})

		return c.Status(fiber.StatusCreated).JSON(auth.NewUserResponse(&user))
	}
}

// GET /api/users?role=admin&branch_id=1 (superadmin or view_user)
func (h *Handler) ListUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		branchID, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		users, err := h.users.List(c.UserContext(), userFilter(c, branchID))
		if err != nil {
			return apperr.Internal("users could not be listed", err)
		}

		res := make([]auth.UserResponse, 0, len(users))
		for i := range users {
			res = append(res, auth.NewUserResponse(&users[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/users/:id (self, or view_user)
func (h *Handler) GetUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, ok := auth.TargetUserFrom(c)
		if !ok {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return c.JSON(auth.NewUserResponse(target))
	}
}

// PUT /api/users/:id (self for name/email/password, update_user otherwise)
func (h *Handler) UpdateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		target, ok := auth.TargetUserFrom(c)
		if !ok {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		if err := auth.CanModifyAccount(p, target.Role); err != nil {
			return err
		}
		before := auth.NewUserResponse(target)

		var body UpdateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return apperr.Invalid("name cannot be empty")
			}
			target.Name = name
		}
		if body.Email != nil {
			email, err := auth.NormalizeEmail(*body.Email)
			if err != nil {
				return err
			}
			target.Email = email
		}
		if body.Password != nil {
			if err := auth.ValidatePassword(*body.Password); err != nil {
				return err
			}
			hash, err := h.hasher.Hash(*body.Password)
			if err != nil {
				return apperr.Internal("password could not be hashed", err)
			}
			target.PasswordHash = hash
		}
		if body.Role != nil {
			role, ok := models.ParseRole(strings.TrimSpace(*body.Role))
			if !ok {
				return apperr.Invalid("unknown role")
			}
			if role != target.Role {
				if auth.IsSelf(p, target.ID) {
					return apperr.New(apperr.CodeForbidden, "not permitted")
				}
				if err := auth.CanChangeRole(p, target.Role, role); err != nil {
					return err
				}
				target.Role = role
			}
		}

		if err := h.users.Update(c.UserContext(), target); err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Internal("user could not be updated", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			EntityType: "user",
			EntityID:   target.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      auth.NewUserResponse(target),
		})

		return c.JSON(auth.NewUserResponse(target))
	}
}

// DELETE /api/users/:id (superadmin or delete_user)
// Grants and branch assignments are removed with the account.
func (h *Handler) DeleteUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		target, ok := auth.TargetUserFrom(c)
		if !ok {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		if auth.IsSelf(p, target.ID) {
			return apperr.Invalid("you cannot delete your own account")
		}
		if err := auth.CanModifyAccount(p, target.Role); err != nil {
			return err
		}

		deleted, err := h.users.Delete(c.UserContext(), target.ID)
		if err != nil {
			return apperr.Internal("user could not be deleted", err)
		}
		if !deleted {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			EntityType: "user",
			EntityID:   target.ID,
			Action:     models.AuditActionDelete,
			Before:     auth.NewUserResponse(target),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

func userFilter(c *fiber.Ctx, branchID uint) repository.UserFilter {
	f := repository.UserFilter{BranchID: branchID}
	if r, ok := models.ParseRole(c.Query("role")); ok {
		f.Role = r
	}
	return f
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
