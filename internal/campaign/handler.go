package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type Handler struct {
	db    *gorm.DB
	audit auth.AuditWriter
	log   *zap.Logger
}

func NewHandler(db *gorm.DB, auditWriter auth.AuditWriter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, audit: auditWriter, log: log}
}

type CampaignResponse struct {
	ID          uint   `json:"id"`
	BranchID    uint   `json:"branch_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	Active      bool   `json:"active"`
}

type CreateCampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StartsAt    string `json:"starts_at"` // "2025-12-01"
	EndsAt      string `json:"ends_at"`
	Active      *bool  `json:"active"`
	BranchID    uint   `json:"branch_id"` // superadmin only
}

type UpdateCampaignRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	StartsAt    *string `json:"starts_at"`
	EndsAt      *string `json:"ends_at"`
	Active      *bool   `json:"active"`
}

func newCampaignResponse(cp *models.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:          cp.ID,
		BranchID:    cp.BranchID,
		Name:        cp.Name,
		Description: cp.Description,
		StartsAt:    cp.StartsAt.Format(dateLayout),
		EndsAt:      cp.EndsAt.Format(dateLayout),
		Active:      cp.Active,
	}
}

// ----------------------------------------
// CAMPAIGNS (branch scoped)
// ----------------------------------------

// GET /api/campaigns?active=true&on=2025-12-05 (view_campaign)
func (h *Handler) ListCampaignsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		q := h.db.WithContext(c.UserContext()).Model(&models.Campaign{})
		requested, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		if branchID := scope.ReadBranch(requested); branchID != 0 {
			q = q.Where("branch_id = ?", branchID)
		}
		switch c.Query("active") {
		case "true":
			q = q.Where("active = ?", true)
		case "false":
			q = q.Where("active = ?", false)
		}
		if on := c.Query("on"); on != "" {
			d, err := time.Parse(dateLayout, on)
			if err != nil {
				return apperr.Invalid("on must be formatted as YYYY-MM-DD")
			}
			q = q.Where("starts_at <= ? AND ends_at >= ?", d, d)
		}

		var campaigns []models.Campaign
		if err := q.Order("starts_at DESC, id DESC").Find(&campaigns).Error; err != nil {
			return apperr.Internal("campaigns could not be listed", err)
		}

		res := make([]CampaignResponse, 0, len(campaigns))
		for i := range campaigns {
			res = append(res, newCampaignResponse(&campaigns[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/campaigns/:id (view_campaign)
func (h *Handler) GetCampaignHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cp, err := h.findCampaign(c)
		if err != nil {
			return err
		}
		return c.JSON(newCampaignResponse(cp))
	}
}

// POST /api/campaigns (create_campaign)
func (h *Handler) CreateCampaignHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		var body CreateCampaignRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return apperr.Invalid("campaign name cannot be empty")
		}

		branchID, err := scope.WriteBranch(body.BranchID)
		if err != nil {
			return err
		}

		cp := models.Campaign{
			BranchID:    branchID,
			Name:        body.Name,
			Description: strings.TrimSpace(body.Description),
			Active:      true,
		}
		if body.Active != nil {
			cp.Active = *body.Active
		}
		if cp.StartsAt, err = parseDate("starts_at", body.StartsAt); err != nil {
			return err
		}
		if cp.EndsAt, err = parseDate("ends_at", body.EndsAt); err != nil {
			return err
		}
		if cp.EndsAt.Before(cp.StartsAt) {
			return apperr.Invalid("ends_at cannot be before starts_at")
		}

		db := h.db.WithContext(c.UserContext())
		var n int64
		if err := db.Model(&models.Branch{}).Where("id = ?", branchID).Count(&n).Error; err != nil {
			return apperr.Internal("branch could not be checked", err)
		}
		if n == 0 {
			return apperr.New(apperr.CodeBranchNotFound, fmt.Sprintf("branch %d not found", branchID))
		}

		if err := db.Omit("Branch").Create(&cp).Error; err != nil {
			return apperr.Internal("campaign could not be created", err)
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:   &cp.BranchID,
			EntityType: "campaign",
			EntityID:   cp.ID,
			Action:     models.AuditActionCreate,
			After:      newCampaignResponse(&cp),
		})

		return c.Status(fiber.StatusCreated).JSON(newCampaignResponse(&cp))
	}
}

// PUT /api/campaigns/:id (update_campaign)
func (h *Handler) UpdateCampaignHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		cp, err := h.findCampaign(c)
		if err != nil {
			return err
		}
		before := newCampaignResponse(cp)

		var body UpdateCampaignRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return apperr.Invalid("campaign name cannot be empty")
			}
			cp.Name = name
		}
		if body.Description != nil {
			cp.Description = strings.TrimSpace(*body.Description)
		}
		if body.StartsAt != nil {
			if cp.StartsAt, err = parseDate("starts_at", *body.StartsAt); err != nil {
				return err
			}
		}
		if body.EndsAt != nil {
			if cp.EndsAt, err = parseDate("ends_at", *body.EndsAt); err != nil {
				return err
			}
		}
		if cp.EndsAt.Before(cp.StartsAt) {
			return apperr.Invalid("ends_at cannot be before starts_at")
		}
		if body.Active != nil {
			cp.Active = *body.Active
		}

		if err := h.db.WithContext(c.UserContext()).Omit("Branch").Save(cp).Error; err != nil {
			return apperr.Internal("campaign could not be updated", err)
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:   &cp.BranchID,
			EntityType: "campaign",
			EntityID:   cp.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      newCampaignResponse(cp),
		})

		return c.JSON(newCampaignResponse(cp))
	}
}

// DELETE /api/campaigns/:id (delete_campaign)
func (h *Handler) DeleteCampaignHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		cp, err := h.findCampaign(c)
		if err != nil {
			return err
		}

		if err := h.db.WithContext(c.UserContext()).Delete(&models.Campaign{}, cp.ID).Error; err != nil {
			return apperr.Internal("campaign could not be deleted", err)
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:   &cp.BranchID,
			EntityType: "campaign",
			EntityID:   cp.ID,
			Action:     models.AuditActionDelete,
			Before:     newCampaignResponse(cp),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

// findCampaign loads the :id campaign. One outside the caller's branch
// scope is reported as not found.
func (h *Handler) findCampaign(c *fiber.Ctx) (*models.Campaign, error) {
	scope, err := auth.MustBranchScope(c)
	if err != nil {
		return nil, err
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, apperr.Invalid("invalid campaign id")
	}

	var cp models.Campaign
	err = h.db.WithContext(c.UserContext()).First(&cp, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !scope.Allows(cp.BranchID)) {
		return nil, apperr.New(apperr.CodeNotFound, "campaign not found")
	}
	if err != nil {
		return nil, apperr.Internal("campaign could not be loaded", err)
	}
	return &cp, nil
}

func parseDate(field, v string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, apperr.Invalid(field + " must be formatted as YYYY-MM-DD")
	}
	return d, nil
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
