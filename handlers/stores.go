package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"goodsale/database"
	"goodsale/metrics"
)

// StoresHandler handles store management requests
type StoresHandler struct {
	db database.Database
}

// NewStoresHandler creates a new stores handler
func NewStoresHandler(db database.Database) *StoresHandler {
	return &StoresHandler{db: db}
}

// CreateStoreRequest represents a request to create a store
type CreateStoreRequest struct {
	Name             string   `json:"name" validate:"required"`
	Address          string   `json:"address,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	PromptPayAccount string   `json:"promptpay_account,omitempty"`
	POSType          string   `json:"pos_type,omitempty"`
	TaxRate          *float64 `json:"tax_rate,omitempty"`
	ClosingTime      string   `json:"closing_time,omitempty"` // "HH:MM"
}

// UpdateStoreRequest represents a request to update a store
type UpdateStoreRequest struct {
	Name             *string  `json:"name,omitempty"`
	Address          *string  `json:"address,omitempty"`
	Phone            *string  `json:"phone,omitempty"`
	PromptPayAccount *string  `json:"promptpay_account,omitempty"`
	TaxRate          *float64 `json:"tax_rate,omitempty"`
	ClosingTime      *string  `json:"closing_time,omitempty"`
}

// AssignStaffRequest represents a request to assign a user to a store
type AssignStaffRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role,omitempty"`
}

// GetStores godoc
// @Summary List stores
// @Description List stores the authenticated user owns or works in
// @Tags Stores
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "List of stores"
// @Router /stores [get]
func (h *StoresHandler) GetStores(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
		SELECT DISTINCT s.id, s.name, s.address, s.phone, s.pos_type, s.tax_rate,
		       s.is_open, s.opened_at, s.created_at, s.owner_id = $1 AS is_owner
		FROM stores s
		LEFT JOIN store_staff ss ON ss.store_id = s.id AND ss.user_id = $1
		WHERE s.deleted_at IS NULL AND (s.owner_id = $1 OR ss.user_id IS NOT NULL)
		ORDER BY s.created_at`,
		userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch stores"})
	}
	defer rows.Close()

	stores := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var name string
		var address, phone *string
		var posType string
		var taxRate float64
		var isOpen, isOwner bool
		var openedAt *time.Time
		var createdAt time.Time

		if err := rows.Scan(&id, &name, &address, &phone, &posType, &taxRate, &isOpen, &openedAt, &createdAt, &isOwner); err != nil {
			continue
		}

		stores = append(stores, fiber.Map{
			"id":         id,
			"name":       name,
			"address":    address,
			"phone":      phone,
			"pos_type":   posType,
			"tax_rate":   taxRate,
			"is_open":    isOpen,
			"opened_at":  openedAt,
			"created_at": createdAt,
			"is_owner":   isOwner,
		})
	}

	return c.JSON(fiber.Map{"stores": stores})
}

// CreateStore godoc
// @Summary Create a store
// @Description Create a new store owned by the authenticated user
// @Tags Stores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} map[string]interface{} "Store created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Router /stores [post]
func (h *StoresHandler) CreateStore(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	var req CreateStoreRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Store name is required"})
	}

	posType := req.POSType
	if posType == "" {
		posType = "restaurant"
	}
	switch posType {
	case "restaurant", "coffee", "grocery":
	default:
		return c.Status(400).JSON(fiber.Map{"error": "Invalid pos_type"})
	}

	taxRate := 0.07
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 1 {
			return c.Status(400).JSON(fiber.Map{"error": "tax_rate must be between 0 and 1"})
		}
		taxRate = *req.TaxRate
	}

	var closingTime *string
	if req.ClosingTime != "" {
		if _, err := time.Parse("15:04", req.ClosingTime); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "closing_time must be HH:MM"})
		}
		closingTime = &req.ClosingTime
	}

	ctx := context.Background()
	var storeID uuid.UUID
	err := h.db.QueryRow(ctx, `
		INSERT INTO stores (owner_id, name, address, phone, promptpay_account, pos_type, tax_rate, closing_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		userID, req.Name, req.Address, req.Phone, digitsOnly(req.PromptPayAccount), posType, taxRate, closingTime,
	).Scan(&storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create store"})
	}

	// Every store starts with a default sweetness scale
	for _, level := range []struct {
		name string
		pct  int
	}{
		{"No sugar", 0}, {"Less sweet", 50}, {"Normal", 100}, {"Extra sweet", 150},
	} {
		h.db.Exec(ctx, `
			INSERT INTO sweetness_levels (store_id, name, percentage)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			storeID, level.name, level.pct)
	}

	return c.Status(201).JSON(fiber.Map{
		"id":       storeID,
		"name":     req.Name,
		"pos_type": posType,
		"tax_rate": taxRate,
	})
}

// GetStore returns a single store the user has access to
func (h *StoresHandler) GetStore(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	var name string
	var address, phone, promptpay *string
	var posType string
	var taxRate float64
	var isOpen bool
	var openedAt *time.Time
	var closingTime *string
	var createdAt time.Time

	err := h.db.QueryRow(ctx, `
		SELECT name, address, phone, promptpay_account, pos_type, tax_rate,
		       is_open, opened_at, closing_time::text, created_at
		FROM stores WHERE id = $1 AND deleted_at IS NULL`,
		storeID).Scan(&name, &address, &phone, &promptpay, &posType, &taxRate, &isOpen, &openedAt, &closingTime, &createdAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Store not found"})
	}

	return c.JSON(fiber.Map{
		"id":                storeID,
		"name":              name,
		"address":           address,
		"phone":             phone,
		"promptpay_account": promptpay,
		"pos_type":          posType,
		"tax_rate":          taxRate,
		"is_open":           isOpen,
		"opened_at":         openedAt,
		"closing_time":      closingTime,
		"created_at":        createdAt,
	})
}

// UpdateStore updates store settings. Only the owner may change them.
func (h *StoresHandler) UpdateStore(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	storeID := c.Locals("store_id").(uuid.UUID)

	var req UpdateStoreRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()
	if !h.isOwnerOrAdmin(ctx, userID, storeID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only the store owner may update settings"})
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Store name cannot be empty"})
		}
		h.db.Exec(ctx, `UPDATE stores SET name = $1 WHERE id = $2`, name, storeID)
	}
	if req.Address != nil {
		h.db.Exec(ctx, `UPDATE stores SET address = $1 WHERE id = $2`, *req.Address, storeID)
	}
	if req.Phone != nil {
		h.db.Exec(ctx, `UPDATE stores SET phone = $1 WHERE id = $2`, *req.Phone, storeID)
	}
	if req.PromptPayAccount != nil {
		h.db.Exec(ctx, `UPDATE stores SET promptpay_account = $1 WHERE id = $2`, digitsOnly(*req.PromptPayAccount), storeID)
	}
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 1 {
			return c.Status(400).JSON(fiber.Map{"error": "tax_rate must be between 0 and 1"})
		}
		h.db.Exec(ctx, `UPDATE stores SET tax_rate = $1 WHERE id = $2`, *req.TaxRate, storeID)
	}
	if req.ClosingTime != nil {
		if *req.ClosingTime == "" {
			h.db.Exec(ctx, `UPDATE stores SET closing_time = NULL WHERE id = $1`, storeID)
		} else {
			if _, err := time.Parse("15:04", *req.ClosingTime); err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "closing_time must be HH:MM"})
			}
			h.db.Exec(ctx, `UPDATE stores SET closing_time = $1 WHERE id = $2`, *req.ClosingTime, storeID)
		}
	}

	return c.JSON(fiber.Map{"message": "Store updated"})
}

// DeleteStore soft-deletes a store. Only the owner may delete it.
func (h *StoresHandler) DeleteStore(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	if !h.isOwnerOrAdmin(ctx, userID, storeID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only the store owner may delete the store"})
	}

	if _, err := h.db.Exec(ctx, `UPDATE stores SET deleted_at = NOW() WHERE id = $1`, storeID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete store"})
	}
	return c.JSON(fiber.Map{"message": "Store deleted"})
}

// OpenStore marks a store open for business
func (h *StoresHandler) OpenStore(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	tag, err := h.db.Exec(ctx, `
		UPDATE stores SET is_open = true, opened_at = COALESCE(opened_at, NOW())
		WHERE id = $1 AND deleted_at IS NULL`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to open store"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Store not found"})
	}

	h.refreshOpenStoresGauge(ctx)
	return c.JSON(fiber.Map{"is_open": true})
}

// CloseStore marks a store closed and writes the end-of-day summary
func (h *StoresHandler) CloseStore(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	summary, err := CloseStoreForBusiness(ctx, h.db, storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to close store"})
	}

	h.refreshOpenStoresGauge(ctx)
	return c.JSON(fiber.Map{
		"is_open": false,
		"summary": summary,
	})
}

// CloseStoreForBusiness closes a store and records its daily summary.
// The auto-close job shares this path with the manual close endpoint.
func CloseStoreForBusiness(ctx context.Context, db database.Database, storeID uuid.UUID) (fiber.Map, error) {
	var totalOrders, totalItems int
	var totalRevenue float64
	err := db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE store_id = $1 AND status = 'completed'
		  AND created_at::date = CURRENT_DATE`,
		storeID).Scan(&totalOrders, &totalRevenue)
	if err != nil {
		return nil, err
	}

	if err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.store_id = $1 AND o.status = 'completed'
		  AND o.created_at::date = CURRENT_DATE`,
		storeID).Scan(&totalItems); err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx, `
		INSERT INTO store_daily_summaries (store_id, business_date, total_orders, total_revenue, total_items)
		VALUES ($1, CURRENT_DATE, $2, $3, $4)
		ON CONFLICT (store_id, business_date)
		DO UPDATE SET total_orders = $2, total_revenue = $3, total_items = $4, closed_at = NOW()`,
		storeID, totalOrders, totalRevenue, totalItems); err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx, `
		UPDATE stores SET is_open = false, opened_at = NULL WHERE id = $1`,
		storeID); err != nil {
		return nil, err
	}

	return fiber.Map{
		"business_date": time.Now().Format("2006-01-02"),
		"total_orders":  totalOrders,
		"total_revenue": totalRevenue,
		"total_items":   totalItems,
	}, nil
}

// Dashboard returns today's headline numbers for a store
func (h *StoresHandler) Dashboard(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	var todayOrders int
	var todayRevenue float64
	err := h.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE store_id = $1 AND status = 'completed' AND created_at::date = CURRENT_DATE`,
		storeID).Scan(&todayOrders, &todayRevenue)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}

	var activeOrders int
	h.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE store_id = $1 AND status IN ('new', 'preparing', 'ready')`,
		storeID).Scan(&activeOrders)

	var pendingPayments int
	h.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE store_id = $1 AND payment_status = 'pending' AND status NOT IN ('cancelled')
		  AND created_at::date = CURRENT_DATE`,
		storeID).Scan(&pendingPayments)

	var lowStockCount int
	h.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_items
		WHERE store_id = $1 AND quantity <= low_stock_threshold`,
		storeID).Scan(&lowStockCount)

	return c.JSON(fiber.Map{
		"today_orders":     todayOrders,
		"today_revenue":    todayRevenue,
		"active_orders":    activeOrders,
		"pending_payments": pendingPayments,
		"low_stock_count":  lowStockCount,
	})
}

// AssignStaff adds a user to the store's staff roster
func (h *StoresHandler) AssignStaff(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	storeID := c.Locals("store_id").(uuid.UUID)

	var req AssignStaffRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	staffID, err := uuid.Parse(req.UserID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user id"})
	}
	role := req.Role
	if role == "" {
		role = "staff"
	}
	if role != "staff" && role != "kitchen" {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid role"})
	}

	ctx := context.Background()
	if !h.isOwnerOrAdmin(ctx, userID, storeID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only the store owner may manage staff"})
	}

	var exists bool
	h.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND deleted_at IS NULL)`, staffID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}

	if _, err := h.db.Exec(ctx, `
		INSERT INTO store_staff (store_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_id, user_id) DO UPDATE SET role = $3`,
		storeID, staffID, role); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to assign staff"})
	}

	return c.Status(201).JSON(fiber.Map{"message": "Staff assigned", "user_id": staffID, "role": role})
}

// RemoveStaff removes a user from the store's staff roster
func (h *StoresHandler) RemoveStaff(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	storeID := c.Locals("store_id").(uuid.UUID)
	staffID, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user id"})
	}

	ctx := context.Background()
	if !h.isOwnerOrAdmin(ctx, userID, storeID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only the store owner may manage staff"})
	}

	tag, err := h.db.Exec(ctx, `DELETE FROM store_staff WHERE store_id = $1 AND user_id = $2`, storeID, staffID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove staff"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Staff assignment not found"})
	}
	return c.JSON(fiber.Map{"message": "Staff removed"})
}

// GetStaff lists the store's staff roster
func (h *StoresHandler) GetStaff(c *fiber.Ctx) error {
	storeID := c.Locals("store_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
		SELECT u.id, u.username, ss.role, ss.created_at
		FROM store_staff ss
		JOIN users u ON u.id = ss.user_id AND u.deleted_at IS NULL
		WHERE ss.store_id = $1
		ORDER BY ss.created_at`,
		storeID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch staff"})
	}
	defer rows.Close()

	staff := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var username, role string
		var createdAt time.Time
		if err := rows.Scan(&id, &username, &role, &createdAt); err != nil {
			continue
		}
		staff = append(staff, fiber.Map{
			"user_id":    id,
			"username":   username,
			"role":       role,
			"created_at": createdAt,
		})
	}
	return c.JSON(fiber.Map{"staff": staff})
}

func (h *StoresHandler) isOwnerOrAdmin(ctx context.Context, userID, storeID uuid.UUID) bool {
	var allowed bool
	err := h.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stores WHERE id = $1 AND owner_id = $2)
		    OR EXISTS (SELECT 1 FROM users WHERE id = $2 AND is_admin = true)`,
		storeID, userID).Scan(&allowed)
	return err == nil && allowed
}

func (h *StoresHandler) refreshOpenStoresGauge(ctx context.Context) {
	var open int
	if err := h.db.QueryRow(ctx, `SELECT COUNT(*) FROM stores WHERE is_open = true AND deleted_at IS NULL`).Scan(&open); err == nil {
		metrics.UpdateStoresOpen(open)
	}
}

// digitsOnly strips separators from phone numbers and PromptPay IDs
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
