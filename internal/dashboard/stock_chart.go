package dashboard

import (
	"sort"
	"time"

	"retail-backend/internal/apperr"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

type StockChartPoint struct {
	Label    string  `json:"label"` // first day of the bucket
	Quantity float64 `json:"quantity"`
	Counts   int     `json:"counts"`
}

type StockChartResponse struct {
	BranchID  uint              `json:"branch_id"`
	ProductID uint              `json:"product_id"`
	Period    Period            `json:"period"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Points    []StockChartPoint `json:"points"`
}

func parsePeriod(s string) (Period, int, bool) {
	switch Period(s) {
	case "", PeriodDaily:
		return PeriodDaily, 7, true
	case PeriodWeekly:
		return PeriodWeekly, 8, true
	case PeriodMonthly:
		return PeriodMonthly, 12, true
	default:
		return "", 0, false
	}
}

// bucketStart truncates t to the first day of its bucket. Weeks start on
// Monday.
func bucketStart(p Period, t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch p {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// chartRange returns the first bucket start and the exclusive end of the
// last bucket, for count buckets ending with the one containing now.
func chartRange(p Period, count int, now time.Time) (time.Time, time.Time) {
	last := bucketStart(p, now)
	switch p {
	case PeriodWeekly:
		return last.AddDate(0, 0, -7*(count-1)), last.AddDate(0, 0, 7)
	case PeriodMonthly:
		return last.AddDate(0, -(count - 1), 0), last.AddDate(0, 1, 0)
	default:
		return last.AddDate(0, 0, -(count - 1)), last.AddDate(0, 0, 1)
	}
}

// stockPoints groups entries into buckets. A bucket's quantity is the last
// count taken in it, since a count replaces the previous one.
func stockPoints(p Period, entries []models.StockEntry) []StockChartPoint {
	type agg struct {
		start  time.Time
		latest models.StockEntry
		counts int
	}
	buckets := make(map[time.Time]*agg)
	for _, e := range entries {
		start := bucketStart(p, e.Date)
		b, ok := buckets[start]
		if !ok {
			b = &agg{start: start}
			buckets[start] = b
		}
		b.counts++
		if b.counts == 1 || !e.Date.Before(b.latest.Date) {
			b.latest = e
		}
	}

	ordered := make([]*agg, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start.Before(ordered[j].start) })

	points := make([]StockChartPoint, 0, len(ordered))
	for _, b := range ordered {
		points = append(points, StockChartPoint{
			Label:    b.start.Format(dateLayout),
			Quantity: b.latest.Quantity,
			Counts:   b.counts,
		})
	}
	return points
}

// GET /api/dashboard/stock-chart?product_id=3&period=weekly&count=8 (branch scoped, view_stock)
func (h *Handler) StockChartHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scope, err := auth.MustBranchScope(c)
		if err != nil {
			return err
		}
		requested, err := auth.QueryID(c, "branch_id")
		if err != nil {
			return err
		}
		branchID := scope.ReadBranch(requested)
		if branchID == 0 {
			return apperr.New(apperr.CodeBranchIDRequired, "branch_id is required")
		}

		productID := c.QueryInt("product_id", 0)
		if productID <= 0 {
			return apperr.Invalid("product_id is required")
		}

		period, count, ok := parsePeriod(c.Query("period"))
		if !ok {
			return apperr.Invalid("period must be daily, weekly or monthly")
		}
		if v := c.QueryInt("count", 0); v < 0 || v > 366 {
			return apperr.Invalid("count must be between 1 and 366")
		} else if v > 0 {
			count = v
		}

		from, to := chartRange(period, count, h.now())

		// ordered by id as well so equal dates keep insertion order
		var entries []models.StockEntry
		err = h.db.WithContext(c.UserContext()).
			Where("branch_id = ? AND product_id = ? AND date >= ? AND date < ?", branchID, productID, from, to).
			Order("date ASC, id ASC").
			Find(&entries).Error
		if err != nil {
			h.log.Error("stock chart query failed", zap.Uint("branch_id", branchID), zap.Error(err))
			return apperr.Internal("stock chart could not be built", err)
		}

		return c.JSON(StockChartResponse{
			BranchID:  branchID,
			ProductID: uint(productID),
			Period:    period,
			From:      from.Format(dateLayout),
			To:        to.AddDate(0, 0, -1).Format(dateLayout),
			Points:    stockPoints(period, entries),
		})
	}
}
