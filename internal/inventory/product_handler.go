package inventory

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

type ProductResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	StockCode string `json:"stock_code"`
}

type CreateProductRequest struct {
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	StockCode string `json:"stock_code"` // optional
}

type UpdateProductRequest struct {
	Name      *string `json:"name"`
	Unit      *string `json:"unit"`
	StockCode *string `json:"stock_code"`
}

func newProductResponse(p *models.Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Unit:      p.Unit,
		StockCode: p.StockCode,
	}
}

// GET /api/products?q=tom (any authenticated user)
func (h *Handler) ListProductsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := h.db.WithContext(c.UserContext()).Model(&models.Product{})
		if term := strings.TrimSpace(c.Query("q")); term != "" {
			q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(term)+"%")
		}

		var products []models.Product
		if err := q.Order("name asc").Find(&products).Error; err != nil {
			return apperr.Internal("products could not be listed", err)
		}

		res := make([]ProductResponse, 0, len(products))
		for i := range products {
			res = append(res, newProductResponse(&products[i]))
		}
		return c.JSON(res)
	}
}

// POST /api/products (superadmin or create_product)
func (h *Handler) CreateProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}

		var body CreateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		body.Name = strings.TrimSpace(body.Name)
		body.Unit = strings.TrimSpace(body.Unit)
		body.StockCode = strings.TrimSpace(body.StockCode)
		if body.Name == "" || body.Unit == "" {
			return apperr.Invalid("name and unit are required")
		}

		db := h.db.WithContext(c.UserContext())
		if body.StockCode != "" {
			var n int64
			if err := db.Model(&models.Product{}).Where("stock_code = ?", body.StockCode).Count(&n).Error; err != nil {
				return apperr.Internal("stock code could not be checked", err)
			}
			if n > 0 {
				return apperr.New(apperr.CodeAlreadyExists, "stock code is already in use")
			}
		}

		product := models.Product{
			Name:      body.Name,
			Unit:      body.Unit,
			StockCode: body.StockCode,
		}
		if err := db.Create(&product).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.CodeAlreadyExists, "a product with this name already exists")
			}
			return apperr.Internal("product could not be created", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			EntityType: "product",
			EntityID:   product.ID,
			Action:     models.AuditActionCreate,
			After:      newProductResponse(&product),
		})

		return c.Status(fiber.StatusCreated).JSON(newProductResponse(&product))
	}
}

// PUT /api/products/:id (superadmin or update_product)
func (h *Handler) UpdateProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}

		product, err := h.findProduct(c)
		if err != nil {
			return err
		}
		before := newProductResponse(product)

		var body UpdateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return apperr.Invalid("name cannot be empty")
			}
			product.Name = name
		}
		if body.Unit != nil {
			unit := strings.TrimSpace(*body.Unit)
			if unit == "" {
				return apperr.Invalid("unit cannot be empty")
			}
			product.Unit = unit
		}
		if body.StockCode != nil {
			product.StockCode = strings.TrimSpace(*body.StockCode)
		}

		if err := h.db.WithContext(c.UserContext()).Save(product).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.CodeAlreadyExists, "a product with this name already exists")
			}
			return apperr.Internal("product could not be updated", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			EntityType: "product",
			EntityID:   product.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      newProductResponse(product),
		})

		return c.JSON(newProductResponse(product))
	}
}

// DELETE /api/products/:id (superadmin or delete_product)
// A product that still has stock counts cannot be deleted.
func (h *Handler) DeleteProductHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}

		product, err := h.findProduct(c)
		if err != nil {
			return err
		}

		db := h.db.WithContext(c.UserContext())
		var n int64
		if err := db.Model(&models.StockEntry{}).Where("product_id = ?", product.ID).Count(&n).Error; err != nil {
			return apperr.Internal("product usage could not be checked", err)
		}
		if n > 0 {
			return apperr.New(apperr.CodeResourceInUse, "product has stock entries")
		}

		if err := db.Delete(&models.Product{}, product.ID).Error; err != nil {
			return apperr.Internal("product could not be deleted", err)
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			EntityType: "product",
			EntityID:   product.ID,
			Action:     models.AuditActionDelete,
			Before:     newProductResponse(product),
		})

		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (h *Handler) findProduct(c *fiber.Ctx) (*models.Product, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, apperr.Invalid("invalid product id")
	}

	var product models.Product
	err = h.db.WithContext(c.UserContext()).First(&product, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, apperr.Internal("product could not be loaded", err)
	}
	return &product, nil
}
