package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"goodsale/database"
	"goodsale/metrics"
	"goodsale/utils"
)

const reportCacheTTL = 60 * time.Second

// ReportsHandler handles sales reporting requests
type ReportsHandler struct {
	db    database.Database
	redis *redis.Client
}

// NewReportsHandler creates a new reports handler
func NewReportsHandler(db database.Database, redisClient *redis.Client) *ReportsHandler {
	return &ReportsHandler{db: db, redis: redisClient}
}

func reportCacheKey(storeID uuid.UUID, kind, arg string) string {
	return fmt.Sprintf("report:%s:%s:%s", storeID, kind, arg)
}

// DailySales godoc
// @Summary Daily sales report
// @Description Aggregate orders for one business date with hourly breakdown
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param date query string false "Business date (YYYY-MM-DD, default today)"
// @Success 200 {object} map[string]interface{} "Daily report"
// @Router /stores/{store_id}/reports/daily [get]
func (h *ReportsHandler) DailySales(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	dateStr := c.Query("date")
	if dateStr == "" {
		dateStr = time.Now().Format("2006-01-02")
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid date, use YYYY-MM-DD"})
	}

	ctx := context.Background()
	cacheKey := reportCacheKey(storeID, "daily", dateStr)
	metrics.IncrementRedisOperation("get")
	if cached, err := h.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		metrics.IncrementCacheRequest("report", "hit")
		c.Set("Content-Type", "application/json")
		return c.Send(cached)
	}
	metrics.IncrementCacheRequest("report", "miss")

	report, err := h.buildDailyReport(ctx, storeID, date)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to build report"})
	}

	if data, err := json.Marshal(report); err == nil {
		metrics.IncrementRedisOperation("set")
		h.redis.Set(ctx, cacheKey, data, reportCacheTTL)
	}
	return c.JSON(report)
}

func (h *ReportsHandler) buildDailyReport(ctx context.Context, storeID uuid.UUID, date time.Time) (fiber.Map, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.Local)
	dayEnd := dayStart.Add(24 * time.Hour)

	var totalOrders, cancelledOrders int
	var totalRevenue, totalDiscount, totalTax float64
	err := h.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(total) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(discount) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(tax) FILTER (WHERE status = 'completed'), 0)
		FROM orders
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3`,
		storeID, dayStart, dayEnd).Scan(&totalOrders, &cancelledOrders, &totalRevenue, &totalDiscount, &totalTax)
	if err != nil {
		return nil, err
	}

	// Payment method split
	methods := fiber.Map{}
	rows, err := h.db.Query(ctx, `
		SELECT payment_method, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE store_id = $1 AND status = 'completed' AND created_at >= $2 AND created_at < $3
		GROUP BY payment_method`,
		storeID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var method string
		var count int
		var amount float64
		if err := rows.Scan(&method, &count, &amount); err == nil {
			methods[method] = fiber.Map{"orders": count, "revenue": utils.Round2(amount)}
		}
	}
	rows.Close()

	// 24 hourly buckets, zero-filled
	type hourBucket struct {
		Hour    int     `json:"hour"`
		Orders  int     `json:"orders"`
		Revenue float64 `json:"revenue"`
	}
	hourly := make([]hourBucket, 24)
	for i := range hourly {
		hourly[i].Hour = i
	}
	rows, err = h.db.Query(ctx, `
		SELECT EXTRACT(HOUR FROM created_at)::int, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE store_id = $1 AND status = 'completed' AND created_at >= $2 AND created_at < $3
		GROUP BY 1`,
		storeID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var hour, count int
		var revenue float64
		if err := rows.Scan(&hour, &count, &revenue); err == nil && hour >= 0 && hour < 24 {
			hourly[hour].Orders = count
			hourly[hour].Revenue = utils.Round2(revenue)
		}
	}
	rows.Close()

	average := 0.0
	if totalOrders > 0 {
		average = utils.Round2(totalRevenue / float64(totalOrders))
	}

	return fiber.Map{
		"date":             date.Format("2006-01-02"),
		"total_orders":     totalOrders,
		"cancelled_orders": cancelledOrders,
		"total_revenue":    utils.Round2(totalRevenue),
		"total_discount":   utils.Round2(totalDiscount),
		"total_tax":        utils.Round2(totalTax),
		"average_order":    average,
		"payment_methods":  methods,
		"hourly":           hourly,
	}, nil
}

// BestSellers godoc
// @Summary Best selling items
// @Description Top items by quantity over a trailing window
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param days query int false "Window in days (default 7)"
// @Param limit query int false "Number of items (default 10)"
// @Success 200 {object} map[string]interface{} "Best sellers"
// @Router /stores/{store_id}/reports/best-sellers [get]
func (h *ReportsHandler) BestSellers(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	days, err := strconv.Atoi(c.Query("days", "7"))
	if err != nil || days < 1 || days > 365 {
		days = 7
	}
	limit, err := strconv.Atoi(c.Query("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 10
	}

	ctx := context.Background()
	cacheKey := reportCacheKey(storeID, "best", fmt.Sprintf("%d:%d", days, limit))
	metrics.IncrementRedisOperation("get")
	if cached, err := h.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		metrics.IncrementCacheRequest("report", "hit")
		c.Set("Content-Type", "application/json")
		return c.Send(cached)
	}
	metrics.IncrementCacheRequest("report", "miss")

	since := time.Now().AddDate(0, 0, -days)
	rows, err := h.db.Query(ctx, `
		SELECT oi.name, SUM(oi.quantity)::int, COALESCE(SUM(oi.quantity * oi.unit_price), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.store_id = $1 AND o.status = 'completed' AND o.created_at >= $2
		GROUP BY oi.name
		ORDER BY 2 DESC
		LIMIT $3`,
		storeID, since, limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to build report"})
	}
	defer rows.Close()

	items := []fiber.Map{}
	for rows.Next() {
		var name string
		var quantity int
		var revenue float64
		if err := rows.Scan(&name, &quantity, &revenue); err == nil {
			items = append(items, fiber.Map{
				"name":     name,
				"quantity": quantity,
				"revenue":  utils.Round2(revenue),
			})
		}
	}

	report := fiber.Map{"days": days, "items": items}
	if data, err := json.Marshal(report); err == nil {
		metrics.IncrementRedisOperation("set")
		h.redis.Set(ctx, cacheKey, data, reportCacheTTL)
	}
	return c.JSON(report)
}

// SalesRange reports per-day totals over an arbitrary date range
func (h *ReportsHandler) SalesRange(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	startStr := c.Query("start")
	endStr := c.Query("end")
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid start date, use YYYY-MM-DD"})
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid end date, use YYYY-MM-DD"})
	}
	if end.Before(start) {
		return c.Status(400).JSON(fiber.Map{"error": "End date before start date"})
	}
	if end.Sub(start) > 366*24*time.Hour {
		return c.Status(400).JSON(fiber.Map{"error": "Range too large"})
	}

	ctx := context.Background()
	rows, err := h.db.Query(ctx, `
		SELECT created_at::date, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE store_id = $1 AND status = 'completed'
		  AND created_at >= $2 AND created_at < $3
		GROUP BY 1
		ORDER BY 1`,
		storeID, start, end.Add(24*time.Hour))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to build report"})
	}
	defer rows.Close()

	days := []fiber.Map{}
	var totalOrders int
	var totalRevenue float64
	for rows.Next() {
		var day time.Time
		var count int
		var revenue float64
		if err := rows.Scan(&day, &count, &revenue); err == nil {
			days = append(days, fiber.Map{
				"date":    day.Format("2006-01-02"),
				"orders":  count,
				"revenue": utils.Round2(revenue),
			})
			totalOrders += count
			totalRevenue += revenue
		}
	}

	return c.JSON(fiber.Map{
		"start":         startStr,
		"end":           endStr,
		"total_orders":  totalOrders,
		"total_revenue": utils.Round2(totalRevenue),
		"days":          days,
	})
}

// ExportCSV streams completed orders for a date range as CSV
func (h *ReportsHandler) ExportCSV(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)

	startStr := c.Query("start")
	endStr := c.Query("end")
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid start date, use YYYY-MM-DD"})
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil || end.Before(start) {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid end date, use YYYY-MM-DD"})
	}

	ctx := context.Background()
	rows, err := h.db.Query(ctx, `
		SELECT order_number, created_at, payment_method, subtotal, tax, discount, total
		FROM orders
		WHERE store_id = $1 AND status = 'completed'
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`,
		storeID, start, end.Add(24*time.Hour))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to export"})
	}
	defer rows.Close()

	var sb strings.Builder
	sb.WriteString("order_number,created_at,payment_method,subtotal,tax,discount,total\n")
	for rows.Next() {
		var orderNumber, method string
		var createdAt time.Time
		var subtotal, tax, discount, total float64
		if err := rows.Scan(&orderNumber, &createdAt, &method, &subtotal, &tax, &discount, &total); err != nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%.2f,%.2f,%.2f,%.2f\n",
			utils.CSVEscape(orderNumber),
			createdAt.Format(time.RFC3339),
			utils.CSVEscape(method),
			subtotal, tax, discount, total))
	}

	filename := fmt.Sprintf("sales_%s_%s.csv", startStr, endStr)
	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return c.SendString(sb.String())
}
