package dashboard

import (
	"retail-backend/internal/apperr"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SummaryResponse struct {
	BranchID         uint    `json:"branch_id,omitempty"` // 0: all branches
	Customers        int64   `json:"customers"`
	PortalCustomers  int64   `json:"portal_customers"`
	ActiveCampaigns  int64   `json:"active_campaigns"`
	ProductsCounted  int64   `json:"products_counted"`
	LastStockCountAt *string `json:"last_stock_count_at"`
}

// GET /api/dashboard/summary (branch scoped)
// Each figure is only returned when the caller may read the underlying
// records; the rest stay zero.
func (h *Handler) SummaryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		allowed := func(privilege string) (bool, error) {
			return h.authz.Allowed(c.UserContext(), p, auth.Require(privilege, models.RoleAdmin))
		}
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}
		requested, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		branchID := scope.ReadBranch(requested)

		db := h.db.WithContext(c.UserContext())
		inBranch := func(q *gorm.DB) *gorm.DB {
			if branchID != 0 {
				return q.Where("branch_id = ?", branchID)
			}
			return q
		}

		res := SummaryResponse{BranchID: branchID}

		ok, err := allowed(models.PrivViewCustomer)
		if err != nil {
			return apperr.Internal("authorization could not be checked", err)
		}
		if ok {
			if err := inBranch(db.Model(&models.Customer{})).Count(&res.Customers).Error; err != nil {
				return apperr.Internal("customers could not be counted", err)
			}
			if err := inBranch(db.Model(&models.Customer{})).Where("user_id IS NOT NULL").Count(&res.PortalCustomers).Error; err != nil {
				return apperr.Internal("customers could not be counted", err)
			}
		}

		if ok, err = allowed(models.PrivViewCampaign); err != nil {
			return apperr.Internal("authorization could not be checked", err)
		}
		if ok {
			today := h.now()
			q := inBranch(db.Model(&models.Campaign{})).
				Where("active = ? AND starts_at <= ? AND ends_at >= ?", true, today, bucketStart(PeriodDaily, today))
			if err := q.Count(&res.ActiveCampaigns).Error; err != nil {
				return apperr.Internal("campaigns could not be counted", err)
			}
		}

		if ok, err = allowed(models.PrivViewStock); err != nil {
			return apperr.Internal("authorization could not be checked", err)
		}
		if ok {
			if err := inBranch(db.Model(&models.StockEntry{})).Distinct("product_id").Count(&res.ProductsCounted).Error; err != nil {
				return apperr.Internal("stock could not be counted", err)
			}
			var latest models.StockEntry
			err := inBranch(db.Model(&models.StockEntry{})).Order("date DESC, id DESC").Limit(1).Find(&latest).Error
			if err != nil {
				return apperr.Internal("stock could not be counted", err)
			}
			if latest.ID != 0 {
				s := latest.Date.Format(dateLayout)
				res.LastStockCountAt = &s
			}
		}

		return c.JSON(res)
	}
}
