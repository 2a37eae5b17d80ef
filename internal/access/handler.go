package access

import (
	"fmt"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type PrivilegeResponse struct {
	ID       uint   `json:"id"`
	Codename string `json:"codename"`
	Name     string `json:"name"`
	Module   string `json:"module"`
}

type GrantPrivilegeRequest struct {
	PrivilegeID uint `json:"privilege_id"`
}

type RenamePrivilegeRequest struct {
	Name string `json:"name"`
}

type AssignBranchRequest struct {
	BranchID uint `json:"branch_id"`
}

type BranchResponse struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type Handler struct {
	privileges *PrivilegeStore
	branches   *BranchAssignmentStore
	audit      auth.AuditWriter
	log        *zap.Logger
}

func NewHandler(privileges *PrivilegeStore, branches *BranchAssignmentStore, auditWriter auth.AuditWriter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{privileges: privileges, branches: branches, audit: auditWriter, log: log}
}

// ----------------------------------------
// PRIVILEGE CATALOG
// ----------------------------------------

// GET /api/privileges?module=branch
func (h *Handler) ListPrivilegesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		privs, err := h.privileges.Catalog(c.UserContext(), c.Query("module"))
		if err != nil {
			return apperr.Internal("privileges could not be listed", err)
		}

		res := make([]PrivilegeResponse, 0, len(privs))
		for i := range privs {
			res = append(res, newPrivilegeResponse(&privs[i]))
		}
		return c.JSON(res)
	}
}

// PUT /api/privileges/:id (superadmin only, display name only)
func (h *Handler) RenamePrivilegeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return apperr.Invalid("invalid privilege id")
		}

		var body RenamePrivilegeRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		priv, err := h.privileges.Rename(c.UserContext(), uint(id), body.Name)
		if err != nil {
			return err
		}
		return c.JSON(newPrivilegeResponse(priv))
	}
}

// ----------------------------------------
// USER PRIVILEGES
// ----------------------------------------

// GET /api/users/:id/privileges (self, or manage_privileges)
func (h *Handler) ListUserPrivilegesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, ok := auth.TargetUserFrom(c)
		if !ok {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}

		grants, err := h.privileges.ListForUser(c.UserContext(), target.ID)
		if err != nil {
			return apperr.Internal("privileges could not be listed", err)
		}
		return c.JSON(fiber.Map{
			"user_id":    target.ID,
			"privileges": grants,
		})
	}
}

// POST /api/users/:id/privileges
func (h *Handler) GrantPrivilegeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, target, err := callerAndTarget(c)
		if err != nil {
			return err
		}
		if err := auth.CanModifyPrivileges(p, target.Role); err != nil {
			return err
		}

		var body GrantPrivilegeRequest
		if err := c.BodyParser(&body); err != nil || body.PrivilegeID == 0 {
			return apperr.Invalid("privilege_id is required")
		}

		grantedBy := p.UserID
		priv, err := h.privileges.Grant(c.UserContext(), target.ID, body.PrivilegeID, &grantedBy)
		if err != nil {
			return err
		}

		h.writeAudit(c, p, audit.LogOptions{
			EntityType:  "user_privilege",
			EntityID:    target.ID,
			Action:      models.AuditActionGrant,
			Description: fmt.Sprintf("%s granted to %s", priv.Codename, target.Email),
			After:       newPrivilegeResponse(priv),
		})

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"user_id":   target.ID,
			"privilege": newPrivilegeResponse(priv),
		})
	}
}

// DELETE /api/users/:id/privileges/:privilegeId
func (h *Handler) RevokePrivilegeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, target, err := callerAndTarget(c)
		if err != nil {
			return err
		}
		if err := auth.CanModifyPrivileges(p, target.Role); err != nil {
			return err
		}

		privID, err := c.ParamsInt("privilegeId")
		if err != nil || privID <= 0 {
			return apperr.Invalid("invalid privilege id")
		}

		priv, err := h.privileges.Revoke(c.UserContext(), target.ID, uint(privID))
		if err != nil {
			return err
		}

		h.writeAudit(c, p, audit.LogOptions{
			EntityType:  "user_privilege",
			EntityID:    target.ID,
			Action:      models.AuditActionRevoke,
			Description: fmt.Sprintf("%s revoked from %s", priv.Codename, target.Email),
			Before:      newPrivilegeResponse(priv),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ----------------------------------------
// USER BRANCHES
// ----------------------------------------

// GET /api/users/:id/branches (self, or manage_user_branches)
func (h *Handler) ListUserBranchesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, ok := auth.TargetUserFrom(c)
		if !ok {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}

		branches, err := h.branches.ListForUser(c.UserContext(), target.ID)
		if err != nil {
			return apperr.Internal("branches could not be listed", err)
		}

		res := make([]BranchResponse, 0, len(branches))
		for i := range branches {
			res = append(res, newBranchResponse(&branches[i]))
		}
		return c.JSON(fiber.Map{
			"user_id":  target.ID,
			"branches": res,
		})
	}
}

// POST /api/users/:id/branches
func (h *Handler) AssignBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, target, err := callerAndTarget(c)
		if err != nil {
			return err
		}

		var body AssignBranchRequest
		if err := c.BodyParser(&body); err != nil || body.BranchID == 0 {
			return apperr.Invalid("branch_id is required")
		}

		assignedBy := p.UserID
		branch, err := h.branches.Assign(c.UserContext(), target.ID, body.BranchID, &assignedBy)
		if err != nil {
			return err
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:    &branch.ID,
			EntityType:  "user_branch",
			EntityID:    target.ID,
			Action:      models.AuditActionAssign,
			Description: fmt.Sprintf("%s assigned to branch %s", target.Email, branch.Name),
		})

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"user_id": target.ID,
			"branch":  newBranchResponse(branch),
		})
	}
}

// DELETE /api/users/:id/branches/:branchId
func (h *Handler) UnassignBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, target, err := callerAndTarget(c)
		if err != nil {
			return err
		}

		branchID, err := c.ParamsInt("branchId")
		if err != nil || branchID <= 0 {
			return apperr.Invalid("invalid branch id")
		}

		branch, err := h.branches.Unassign(c.UserContext(), target.ID, uint(branchID))
		if err != nil {
			return err
		}

		h.writeAudit(c, p, audit.LogOptions{
			BranchID:    &branch.ID,
			EntityType:  "user_branch",
			EntityID:    target.ID,
			Action:      models.AuditActionUnassign,
			Description: fmt.Sprintf("%s removed from branch %s", target.Email, branch.Name),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

func callerAndTarget(c *fiber.Ctx) (auth.Principal, *models.User, error) {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return auth.Principal{}, nil, err
	}
	target, ok := auth.TargetUserFrom(c)
	if !ok {
		return auth.Principal{}, nil, apperr.New(apperr.CodeUserNotFound, "user not found")
	}
	return p, target, nil
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

func newPrivilegeResponse(p *models.Privilege) PrivilegeResponse {
	return PrivilegeResponse{ID: p.ID, Codename: p.Codename, Name: p.Name, Module: p.Module}
}

func newBranchResponse(b *models.Branch) BranchResponse {
	return BranchResponse{ID: b.ID, Name: b.Name, Address: b.Address, Phone: b.Phone}
}
