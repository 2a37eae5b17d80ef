package admin

import (
	"time"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
)

type AuditLogResponse struct {
	ID          uint   `json:"id"`
	CreatedAt   string `json:"created_at"`
	BranchID    *uint  `json:"branch_id"`
	UserID      uint   `json:"user_id"`
	UserName    string `json:"user_name"`
	EntityType  string `json:"entity_type"`
	EntityID    uint   `json:"entity_id"`
	Action      string `json:"action"`
	Description string `json:"description"`
	BeforeData  string `json:"before_data"`
	AfterData   string `json:"after_data"`
}

// GET /api/audit-logs?branch_id=&user_id=&entity_type=&entity_id=&from=&to=&limit=
// (superadmin or view_audit_logs; restricted callers only see their branch)
func (h *Handler) ListAuditLogsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		branchID, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		userID, err := auth.QueryID(c, "user_id")
		if err != nil {
			return err
		}
		entityID, err := auth.QueryID(c, "entity_id")
		if err != nil {
			return err
		}
		limit := c.QueryInt("limit", 0)
		if limit < 0 {
			return apperr.Invalid("limit cannot be negative")
		}

		f := audit.Filter{
			BranchID:   scope.ReadBranch(branchID),
			UserID:     userID,
			EntityType: c.Query("entity_type"),
			EntityID:   entityID,
			Limit:      limit,
		}
		if f.From, err = dateQuery(c, "from", false); err != nil {
			return err
		}
		if f.To, err = dateQuery(c, "to", true); err != nil {
			return err
		}

		entries, err := h.audit.List(c.UserContext(), f)
		if err != nil {
			return apperr.Internal("audit logs could not be listed", err)
		}

		res := make([]AuditLogResponse, 0, len(entries))
		for _, e := range entries {
			res = append(res, AuditLogResponse{
				ID:          e.ID,
				CreatedAt:   e.CreatedAt.Format("2006-01-02 15:04:05"),
				BranchID:    e.BranchID,
				UserID:      e.UserID,
				UserName:    e.UserName,
				EntityType:  e.EntityType,
				EntityID:    e.EntityID,
				Action:      string(e.Action),
				Description: e.Description,
				BeforeData:  e.BeforeData,
				AfterData:   e.AfterData,
			})
		}
		return c.JSON(res)
	}
}

// dateQuery parses a YYYY-MM-DD query value. endOfDay moves it to the last
// instant of that day so "to" is inclusive.
func dateQuery(c *fiber.Ctx, key string, endOfDay bool) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, apperr.Invalid(key + " must be formatted as YYYY-MM-DD")
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return &d, nil
}
