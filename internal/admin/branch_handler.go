package admin

import (
	"errors"
	"strings"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BranchResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

type CreateBranchRequest struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Phone   *string `json:"phone"` // optional
}

type UpdateBranchRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

func newBranchResponse(b *models.Branch) BranchResponse {
	return BranchResponse{
		ID:        b.ID,
		Name:      b.Name,
		Address:   b.Address,
		Phone:     b.Phone,
		CreatedAt: b.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// ----------------------------------------
// BRANCH CRUD
// ----------------------------------------

// POST /api/branches (superadmin or create_branch)
func (h *Handler) CreateBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}

		var body CreateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return apperr.Invalid("branch name cannot be empty")
		}

		branch := models.Branch{
			Name:    body.Name,
			Address: body.Address,
		}
		if body.Phone != nil {
			branch.Phone = strings.TrimSpace(*body.Phone)
		}

		if err := h.db.WithContext(c.UserContext()).Create(&branch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.CodeAlreadyExists, "a branch with this name already exists")
			}
			return apperr.Internal("branch could not be created", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			BranchID:   &branch.ID,
			EntityType: "branch",
			EntityID:   branch.ID,
			Action:     models.AuditActionCreate,
			After:      newBranchResponse(&branch),
		})

		return c.Status(fiber.StatusCreated).JSON(newBranchResponse(&branch))
	}
}

// GET /api/branches
// A superadmin sees every branch, everybody else only the assigned ones.
func (h *Handler) ListBranchesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}

		var branches []models.Branch
		if p.IsSuperAdmin() {
			if err := h.db.WithContext(c.UserContext()).Order("name ASC").Find(&branches).Error; err != nil {
				return apperr.Internal("branches could not be listed", err)
			}
		} else {
			branches, err = h.assignments.ListForUser(c.UserContext(), p.UserID)
			if err != nil {
				return apperr.Internal("branches could not be listed", err)
			}
		}

		res := make([]BranchResponse, 0, len(branches))
		for i := range branches {
			res = append(res, newBranchResponse(&branches[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/branches/:id
func (h *Handler) GetBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		id, err := branchIDParam(c)
		if err != nil {
			return err
		}

		if !p.IsSuperAdmin() {
			ok, err := h.assignments.IsAssigned(c.UserContext(), p.UserID, id)
			if err != nil {
				return apperr.Internal("branch access could not be checked", err)
			}
			if !ok {
				return apperr.New(apperr.CodeBranchAccessDenied, "no access to this branch")
			}
		}

		branch, err := h.findBranch(c, id)
		if err != nil {
			return err
		}
		return c.JSON(newBranchResponse(branch))
	}
}

// PUT /api/branches/:id (superadmin or update_branch)
func (h *Handler) UpdateBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		id, err := branchIDParam(c)
		if err != nil {
			return err
		}

		branch, err := h.findBranch(c, id)
		if err != nil {
			return err
		}
		before := newBranchResponse(branch)

		var body UpdateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return apperr.Invalid("branch name cannot be empty")
			}
			branch.Name = name
		}
		if body.Address != nil {
			branch.Address = *body.Address
		}
		if body.Phone != nil {
			branch.Phone = strings.TrimSpace(*body.Phone)
		}

		if err := h.db.WithContext(c.UserContext()).Save(branch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.CodeAlreadyExists, "a branch with this name already exists")
			}
			return apperr.Internal("branch could not be updated", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			BranchID:   &branch.ID,
			EntityType: "branch",
			EntityID:   branch.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      newBranchResponse(branch),
		})

		return c.JSON(newBranchResponse(branch))
	}
}

// DELETE /api/branches/:id (superadmin or delete_branch)
// Assignments go with the branch; stock, customers or campaigns keep it
// alive.
func (h *Handler) DeleteBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		id, err := branchIDParam(c)
		if err != nil {
			return err
		}

		branch, err := h.findBranch(c, id)
		if err != nil {
			return err
		}

		err = h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			for _, m := range []any{&models.StockEntry{}, &models.Customer{}, &models.Campaign{}} {
				var n int64
				if err := tx.Model(m).Where("branch_id = ?", id).Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					return apperr.New(apperr.CodeResourceInUse, "branch still has stock, customers or campaigns")
				}
			}
			if err := tx.Where("branch_id = ?", id).Delete(&models.UserBranch{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Branch{}, id).Error
		})
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Internal("branch could not be deleted", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			BranchID:   &branch.ID,
			EntityType: "branch",
			EntityID:   branch.ID,
			Action:     models.AuditActionDelete,
			Before:     newBranchResponse(branch),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ----------------------------------------
// BRANCH STAFF
// GET /api/branches/:id/users (superadmin or view_user)
// ----------------------------------------

func (h *Handler) ListBranchUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := branchIDParam(c)
		if err != nil {
			return err
		}
		if _, err := h.findBranch(c, id); err != nil {
			return err
		}

		users, err := h.users.List(c.UserContext(), userFilter(c, id))
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

func (h *Handler) findBranch(c *fiber.Ctx, id uint) (*models.Branch, error) {
	var branch models.Branch
	err := h.db.WithContext(c.UserContext()).First(&branch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.CodeBranchNotFound, "branch not found")
	}
	if err != nil {
		return nil, apperr.Internal("branch could not be loaded", err)
	}
	return &branch, nil
}

func branchIDParam(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid branch id")
	}
	return uint(id), nil
}
