package customer

import (
	"errors"
	"fmt"
	"strings"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"
	"retail-backend/internal/repository"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	hasher auth.PasswordHasher
	audit  auth.AuditWriter
	log    *zap.Logger
}

func NewHandler(db *gorm.DB, hasher auth.PasswordHasher, auditWriter auth.AuditWriter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, hasher: hasher, audit: auditWriter, log: log}
}

type CustomerResponse struct {
	ID            uint   `json:"id"`
	BranchID      uint   `json:"branch_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	PortalUserID  *uint  `json:"portal_user_id"`
	PortalEnabled bool   `json:"portal_enabled"`
	CreatedAt     string `json:"created_at"`
}

type CreateCustomerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	BranchID uint   `json:"branch_id"` // superadmin only
}

type UpdateCustomerRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

type ActivatePortalRequest struct {
	Email    string `json:"email"` // defaults to the customer's email
	Password string `json:"password"`
}

func newCustomerResponse(cu *models.Customer) CustomerResponse {
	return CustomerResponse{
		ID:            cu.ID,
		BranchID:      cu.BranchID,
		Name:          cu.Name,
		Email:         cu.Email,
		Phone:         cu.Phone,
		PortalUserID:  cu.UserID,
		PortalEnabled: cu.UserID != nil,
		CreatedAt:     cu.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// ----------------------------------------
// CUSTOMERS (branch scoped)
// ----------------------------------------

// GET /api/customers?q=ali (view_customer)
func (h *Handler) ListCustomersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		q := h.db.WithContext(c.UserContext()).Model(&models.Customer{})
		requested, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		if branchID := scope.ReadBranch(requested); branchID != 0 {
			q = q.Where("branch_id = ?", branchID)
		}
		if term := strings.TrimSpace(c.Query("q")); term != "" {
			like := "%" + strings.ToLower(term) + "%"
			q = q.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
		}

		var customers []models.Customer
		if err := q.Order("name asc").Find(&customers).Error; err != nil {
			return apperr.Internal("customers could not be listed", err)
		}

		res := make([]CustomerResponse, 0, len(customers))
		for i := range customers {
			res = append(res, newCustomerResponse(&customers[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/customers/:id (view_customer)
func (h *Handler) GetCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cu, err := h.findCustomer(c)
		if err != nil {
			return err
		}
		return c.JSON(newCustomerResponse(cu))
	}
}

// POST /api/customers (create_customer)
func (h *Handler) CreateCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		var body CreateCustomerRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return apperr.Invalid("customer name cannot be empty")
		}

		branchID, err := scope.WriteBranch(body.BranchID)
		if err != nil {
			return err
		}

		cu := models.Customer{
			BranchID: branchID,
			Name:     body.Name,
			Phone:    strings.TrimSpace(body.Phone),
		}
		if strings.TrimSpace(body.Email) != "" {
			if cu.Email, err = auth.NormalizeEmail(body.Email); err != nil {
				return err
			}
		}

		db := h.db.WithContext(c.UserContext())
		var n int64
		if err := db.Model(&models.Branch{}).Where("id = ?", branchID).Count(&n).Error; err != nil {
			return apperr.Internal("branch could not be checked", err)
		}
		if n == 0 {
			return apperr.New(apperr.CodeBranchNotFound, fmt.Sprintf("branch %d not found", branchID))
		}

		if err := db.Omit("Branch", "User").Create(&cu).Error; err != nil {
			return apperr.Internal("customer could not be created", err)
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:   &cu.BranchID,
			EntityType: "customer",
			EntityID:   cu.ID,
			Action:     models.AuditActionCreate,
			After:      newCustomerResponse(&cu),
		})

		return c.Status(fiber.StatusCreated).JSON(newCustomerResponse(&cu))
	}
}

// PUT /api/customers/:id (update_customer)
func (h *Handler) UpdateCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		cu, err := h.findCustomer(c)
		if err != nil {
			return err
		}
		before := newCustomerResponse(cu)

		var body UpdateCustomerRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return apperr.Invalid("customer name cannot be empty")
			}
			cu.Name = name
		}
		if body.Email != nil {
			cu.Email = ""
			if strings.TrimSpace(*body.Email) != "" {
				if cu.Email, err = auth.NormalizeEmail(*body.Email); err != nil {
					return err
				}
			}
		}
		if body.Phone != nil {
			cu.Phone = strings.TrimSpace(*body.Phone)
		}

		if err := h.db.WithContext(c.UserContext()).Omit("Branch", "User").Save(cu).Error; err != nil {
			return apperr.Internal("customer could not be updated", err)
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:   &cu.BranchID,
			EntityType: "customer",
			EntityID:   cu.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      newCustomerResponse(cu),
		})

		return c.JSON(newCustomerResponse(cu))
	}
}

// DELETE /api/customers/:id (delete_customer)
// The portal account is deleted together with the customer while it still
// has the customer role. An account that has since been given another role
// is only unlinked.
func (h *Handler) DeleteCustomerHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		cu, err := h.findCustomer(c)
		if err != nil {
			return err
		}

		var kept *models.User
		err = h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Customer{}, cu.ID).Error; err != nil {
				return err
			}
			if cu.UserID == nil {
				return nil
			}
			users := repository.NewUserRepository(tx)
			linked, err := users.FindByID(c.UserContext(), *cu.UserID)
			if err != nil || linked == nil {
				return err
			}
			if linked.Role != models.RoleCustomer {
				kept = linked
				return nil
			}
			_, err = users.Delete(c.UserContext(), linked.ID)
			return err
		})
		if err != nil {
			return apperr.Internal("customer could not be deleted", err)
		}
		if kept != nil {
			h.log.Info("customer deleted, linked account kept",
				zap.Uint("customer_id", cu.ID),
				zap.Uint("user_id", kept.ID),
				zap.String("role", string(kept.Role)),
			)
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:   &cu.BranchID,
			EntityType: "customer",
			EntityID:   cu.ID,
			Action:     models.AuditActionDelete,
			Before:     newCustomerResponse(cu),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/customers/:id/activate-portal (activate_customer_portal)
// Creates a customer-role account and links it in a single transaction.
func (h *Handler) ActivatePortalHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		if err := auth.CanCreateRole(&p, models.RoleCustomer, false); err != nil {
			return err
		}

		cu, err := h.findCustomer(c)
		if err != nil {
			return err
		}
		if cu.UserID != nil {
			return apperr.New(apperr.CodeAlreadyExists, "customer portal is already active")
		}

		var body ActivatePortalRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		if strings.TrimSpace(body.Email) == "" {
			body.Email = cu.Email
		}
		name, email, err := auth.ValidateAccount(cu.Name, body.Email, body.Password)
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
			Role:         models.RoleCustomer,
		}

		err = h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := repository.NewUserRepository(tx).Create(c.UserContext(), &user); err != nil {
				return err
			}
			// guarded on user_id IS NULL so two activations cannot both link
			res := tx.Model(&models.Customer{}).
				Where("id = ? AND user_id IS NULL", cu.ID).
				Update("user_id", user.ID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.New(apperr.CodeAlreadyExists, "customer portal is already active")
			}
			return nil
		})
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Internal("customer portal could not be activated", err)
		}
		cu.UserID = &user.ID

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:    &cu.BranchID,
			EntityType:  "customer",
			EntityID:    cu.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("customer portal activated for %s", user.Email),
			After:       newCustomerResponse(cu),
		})

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"customer": newCustomerResponse(cu),
			"user":     auth.NewUserResponse(&user),
		})
	}
}

// findCustomer loads the :id customer. One outside the caller's branch
// scope is reported as not found.
func (h *Handler) findCustomer(c *fiber.Ctx) (*models.Customer, error) {
	scope, err := auth.MustBranchScope(c)
	if err != nil {
		return nil, err
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, apperr.Invalid("invalid customer id")
	}

	var cu models.Customer
	err = h.db.WithContext(c.UserContext()).First(&cu, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !scope.Allows(cu.BranchID)) {
		return nil, apperr.New(apperr.CodeNotFound, "customer not found")
	}
	if err != nil {
		return nil, apperr.Internal("customer could not be loaded", err)
	}
	return &cu, nil
}

func (h *Handler) writeAudit(c *fiber.Ctx, p auth.Principal, opts audit.LogOptions) {
	if h.audit == nil {
		return
	}
	opts.UserID, opts.UserName = p.UserID, p.Name
	if err := h.audit.WriteLog(c.UserContext(), opts); err != nil {
		h.log.Warn("audit log write failed", zap.String("entity_type", opts.EntityType), zap.Error(err))
	}
}
