package inventory

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sheetRow is one usable line of a stock count sheet.
type sheetRow struct {
	Line     int
	Product  string
	Quantity float64
}

type StockImportResponse struct {
	CreatedCount int      `json:"created_count"`
	Unmatched    []string `json:"unmatched_products"`
	InvalidRows  []int    `json:"invalid_rows"`
}

// parseStockSheet reads the first sheet of an xlsx workbook. Column A holds
// a product name or stock code, column B the counted quantity. A leading
// header row is skipped. Line numbers of rows with an unreadable quantity
// are returned separately.
func parseStockSheet(r io.Reader) ([]sheetRow, []int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, apperr.Invalid("file is not a readable xlsx workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, apperr.Invalid("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, apperr.Invalid("sheet could not be read")
	}

	var (
		out     []sheetRow
		invalid []int
	)
	for i, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if i == 0 && isHeaderCell(row[0]) {
			continue
		}
		line := i + 1
		if len(row) < 2 {
			invalid = append(invalid, line)
			continue
		}
		qty, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(row[1]), ",", "."), 64)
		if err != nil || qty < 0 {
			invalid = append(invalid, line)
			continue
		}
		out = append(out, sheetRow{Line: line, Product: strings.TrimSpace(row[0]), Quantity: qty})
	}
	return out, invalid, nil
}

func isHeaderCell(s string) bool {
	s = foldName(s)
	return strings.Contains(s, "product") || strings.Contains(s, "urun") || strings.Contains(s, "stock code")
}

// productMatcher resolves sheet names against the catalog, by normalized
// name first and by stock code second.
type productMatcher struct {
	byName map[string]models.Product
	byCode map[string]models.Product
}

func newProductMatcher(products []models.Product) productMatcher {
	m := productMatcher{
		byName: make(map[string]models.Product, len(products)),
		byCode: make(map[string]models.Product, len(products)),
	}
	for _, p := range products {
		m.byName[normalizeProductName(p.Name)] = p
		if p.StockCode != "" {
			m.byCode[foldName(p.StockCode)] = p
		}
	}
	return m
}

func (m productMatcher) match(s string) (models.Product, bool) {
	if p, ok := m.byName[normalizeProductName(s)]; ok {
		return p, true
	}
	p, ok := m.byCode[foldName(s)]
	return p, ok
}

// POST /api/stock-entries/import (branch scoped, manage_stock)
// multipart: file=<xlsx>, date=YYYY-MM-DD (optional), branch_id (superadmin only)
func (h *Handler) ImportStockEntriesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}

		requested := 0
		if v := c.FormValue("branch_id"); v != "" {
			if requested, err = strconv.Atoi(v); err != nil || requested < 0 {
				return apperr.Invalid("branch_id must be a positive integer")
			}
		}
		branchID, err := scope.WriteBranch(uint(requested))
		if err != nil {
			return err
		}

		d := time.Now()
		if v := c.FormValue("date"); v != "" {
			if d, err = time.Parse("2006-01-02", v); err != nil {
				return apperr.Invalid("date must be formatted as YYYY-MM-DD")
			}
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return apperr.Invalid("file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
			return apperr.Invalid("only .xlsx files are accepted")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return apperr.Internal("uploaded file could not be opened", err)
		}
		defer file.Close()

		rows, invalid, err := parseStockSheet(file)
		if err != nil {
			return err
		}

		db := h.db.WithContext(c.UserContext())

		var branchCount int64
		if err := db.Model(&models.Branch{}).Where("id = ?", branchID).Count(&branchCount).Error; err != nil {
			return apperr.Internal("branch could not be checked", err)
		}
		if branchCount == 0 {
			return apperr.New(apperr.CodeBranchNotFound, fmt.Sprintf("branch %d not found", branchID))
		}

		var products []models.Product
		if err := db.Find(&products).Error; err != nil {
			return apperr.Internal("products could not be loaded", err)
		}
		matcher := newProductMatcher(products)

		entries := make([]models.StockEntry, 0, len(rows))
		unmatched := make([]string, 0)
		for _, row := range rows {
			product, ok := matcher.match(row.Product)
			if !ok {
				unmatched = append(unmatched, row.Product)
				continue
			}
			entries = append(entries, models.StockEntry{
				BranchID:  branchID,
				ProductID: product.ID,
				Date:      d,
				Quantity:  row.Quantity,
				Note:      fmt.Sprintf("import %s, line %d", fileHeader.Filename, row.Line),
			})
		}

		if len(entries) > 0 {
			err := db.Transaction(func(tx *gorm.DB) error {
				return tx.Omit("Branch", "Product").Create(&entries).Error
			})
			if err != nil {
				return apperr.Internal("stock entries could not be saved", err)
			}
		}

		h.log.Info("stock sheet imported",
			zap.Uint("branch_id", branchID),
			zap.Int("created", len(entries)),
			zap.Int("unmatched", len(unmatched)),
			zap.Int("invalid", len(invalid)),
		)
		res := StockImportResponse{CreatedCount: len(entries), Unmatched: unmatched, InvalidRows: invalid}
		if res.InvalidRows == nil {
			res.InvalidRows = []int{}
		}

		h.writeAudit(c.UserContext(), p, audit.LogOptions{
			BranchID:    &branchID,
			EntityType:  "stock_entry",
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("stock sheet %s imported: %d counts", fileHeader.Filename, len(entries)),
			After:       res,
		})

		return c.JSON(res)
	}
}
