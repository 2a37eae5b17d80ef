package inventory

import (
	"errors"
	"fmt"
	"time"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CreateStockEntryRequest struct {
	Date      string  `json:"date"` // "2025-12-09"
	ProductID uint    `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Note      string  `json:"note"`
	BranchID  uint    `json:"branch_id"` // superadmin only
}

type StockEntryResponse struct {
	ID          uint    `json:"id"`
	BranchID    uint    `json:"branch_id"`
	ProductID   uint    `json:"product_id"`
	ProductName string  `json:"product_name"`
	StockCode   string  `json:"stock_code"`
	Date        string  `json:"date"`
	Quantity    float64 `json:"quantity"`
	Note        string  `json:"note"`
	CreatedAt   string  `json:"created_at"`
}

type CurrentStockResponse struct {
	BranchID    uint    `json:"branch_id"`
	ProductID   uint    `json:"product_id"`
	ProductName string  `json:"product_name"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
	CountedAt   string  `json:"counted_at"`
}

func newStockEntryResponse(e *models.StockEntry) StockEntryResponse {
	return StockEntryResponse{
		ID:          e.ID,
		BranchID:    e.BranchID,
		ProductID:   e.ProductID,
		ProductName: e.Product.Name,
		StockCode:   e.Product.StockCode,
		Date:        e.Date.Format("2006-01-02"),
		Quantity:    e.Quantity,
		Note:        e.Note,
		CreatedAt:   e.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// POST /api/stock-entries (branch scoped, manage_stock)
// A stock entry is a count: its quantity becomes the current stock.
func (h *Handler) CreateStockEntryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		var body CreateStockEntryRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		if body.ProductID == 0 || body.Quantity < 0 {
			return apperr.Invalid("product_id is required and quantity cannot be negative")
		}

		branchID, err := scope.WriteBranch(body.BranchID)
		if err != nil {
			return err
		}

		d := time.Now()
		if body.Date != "" {
			if d, err = time.Parse("2006-01-02", body.Date); err != nil {
				return apperr.Invalid("date must be formatted as YYYY-MM-DD")
			}
		}

		db := h.db.WithContext(c.UserContext())

		var branchCount int64
		if err := db.Model(&models.Branch{}).Where("id = ?", branchID).Count(&branchCount).Error; err != nil {
			return apperr.Internal("branch could not be checked", err)
		}
		if branchCount == 0 {
			return apperr.New(apperr.CodeBranchNotFound, fmt.Sprintf("branch %d not found", branchID))
		}

		var product models.Product
		if err := db.First(&product, body.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.CodeNotFound, "product not found")
			}
			return apperr.Internal("product could not be loaded", err)
		}

		entry := models.StockEntry{
			BranchID:  branchID,
			ProductID: product.ID,
			Date:      d,
			Quantity:  body.Quantity,
			Note:      body.Note,
		}
		if err := db.Omit("Branch", "Product").Create(&entry).Error; err != nil {
			return apperr.Internal("stock entry could not be created", err)
		}
		entry.Product = product

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			BranchID:    &branchID,
			EntityType:  "stock_entry",
			EntityID:    entry.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("stock count: %s %.2f %s", product.Name, entry.Quantity, product.Unit),
			After:       newStockEntryResponse(&entry),
		})

		return c.Status(fiber.StatusCreated).JSON(newStockEntryResponse(&entry))
	}
}

// GET /api/stock-entries?product_id=3 (branch scoped, view_stock)
func (h *Handler) ListStockEntriesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		q := h.db.WithContext(c.UserContext()).Preload("Product")
		requested, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		if branchID := scope.ReadBranch(requested); branchID != 0 {
			q = q.Where("branch_id = ?", branchID)
		}
		productID, err := auth.QueryID(c, "product_id")
		if err != nil {
			return err
		}
		if productID > 0 {
			q = q.Where("product_id = ?", productID)
		}

		var entries []models.StockEntry
		if err := q.Order("date DESC, created_at DESC").Find(&entries).Error; err != nil {
			return apperr.Internal("stock entries could not be listed", err)
		}

		res := make([]StockEntryResponse, 0, len(entries))
		for i := range entries {
			res = append(res, newStockEntryResponse(&entries[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/stock-entries/current (branch scoped, view_stock)
// The current stock of a product is its most recent count in the branch.
func (h *Handler) GetCurrentStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		q := h.db.WithContext(c.UserContext()).Preload("Product")
		requested, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		if branchID := scope.ReadBranch(requested); branchID != 0 {
			q = q.Where("branch_id = ?", branchID)
		}

		var entries []models.StockEntry
		if err := q.Order("date DESC, created_at DESC, id DESC").Find(&entries).Error; err != nil {
			return apperr.Internal("current stock could not be calculated", err)
		}

		type key struct{ branch, product uint }
		seen := make(map[key]struct{})
		res := make([]CurrentStockResponse, 0)
		for _, e := range entries {
			k := key{e.BranchID, e.ProductID}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			res = append(res, CurrentStockResponse{
				BranchID:    e.BranchID,
				ProductID:   e.ProductID,
				ProductName: e.Product.Name,
				Unit:        e.Product.Unit,
				Quantity:    e.Quantity,
				CountedAt:   e.Date.Format("2006-01-02"),
			})
		}
		return c.JSON(res)
	}
}
